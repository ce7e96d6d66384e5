package engine

import (
	"bufio"
	"io"
	"strings"
)

// Инкрементальный разбор server-sent events. Стандартный EventSource не умеет
// передавать заголовок авторизации, поэтому поток читается поверх обычного
// HTTP-ответа: построчная буферизация, кадры "event:"/"data:", пустая строка —
// граница события.

type rawEvent struct {
	Name string
	Data string
}

// readEvents читает события из потока и отдаёт их в fn. Возвращает nil на
// нормальном конце потока (io.EOF).
func readEvents(r io.Reader, fn func(rawEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ev rawEvent
	var dataLines []string

	flush := func() {
		if ev.Name == "" && len(dataLines) == 0 {
			return
		}
		if ev.Name == "" {
			ev.Name = "message"
		}
		ev.Data = strings.Join(dataLines, "\n")
		fn(ev)
		ev = rawEvent{}
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			// комментарий/keep-alive
			continue
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			ev.Name = strings.TrimSpace(name)
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(data, " "))
			continue
		}
		// прочие поля (id:, retry:) не используются
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	// Недосланное событие без завершающей пустой строки не доставляем
	return nil
}
