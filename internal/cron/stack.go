package cron

import (
	"bufio"
	"bytes"
	"runtime/debug"
	"strconv"
	"strings"
)

func stack() []byte { return debug.Stack() }

// panicSite extracts the file and line of the frame that panicked from a
// debug.Stack trace: the first frame after runtime's panic function.
func panicSite(trace []byte) (string, int, bool) {
	const (
		seeking = iota
		inPanic
		caller
	)
	sc := bufio.NewScanner(bytes.NewReader(trace))
	state := seeking
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "\t") {
			if strings.HasPrefix(line, "panic(") {
				state = inPanic
			}
			continue
		}
		switch state {
		case seeking:
			continue
		case inPanic:
			// Location of runtime's panic itself.
			state = caller
			continue
		}
		loc := strings.TrimSpace(line)
		if i := strings.LastIndex(loc, " +0x"); i >= 0 {
			loc = loc[:i]
		}
		i := strings.LastIndex(loc, ":")
		if i < 0 {
			return "", 0, false
		}
		n, err := strconv.Atoi(loc[i+1:])
		if err != nil {
			return "", 0, false
		}
		return loc[:i], n, true
	}
	return "", 0, false
}
