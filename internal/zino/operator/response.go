package operator

import (
	"bufio"
	"strconv"
)

// writeLine writes one reply line:
// a 3-digit code, a separator ("- " for every line but the last, two
// spaces for the last), then the message text.
func writeLine(w *bufio.Writer, code int, last bool, text string) error {
	sep := "- "
	if last {
		sep = "  "
	}
	if _, err := w.WriteString(strconv.Itoa(code) + sep + text + "\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// writeResponse writes a complete response. A single-line response is
// "code message" (one space); a response with more than one line uses
// the multi-line separator convention on every line.
func writeResponse(w *bufio.Writer, code int, lines []string) error {
	if len(lines) == 0 {
		lines = []string{""}
	}
	if len(lines) == 1 {
		if _, err := w.WriteString(strconv.Itoa(code) + " " + lines[0] + "\r\n"); err != nil {
			return err
		}
		return w.Flush()
	}
	for i, line := range lines {
		if err := writeLine(w, code, i == len(lines)-1, line); err != nil {
			return err
		}
	}
	return nil
}
