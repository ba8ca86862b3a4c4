package bot

import (
	"errors"
	"fmt"
	"strconv"

	"rsstt/internal/feeds"
)

// Usage lines, also returned as parse errors.
const (
	usageAdd    = "Usage: /add <name> <link>"
	usageRemove = "Usage: /remove <name>"
	usageTest   = "Usage: /test <link> [start [end]] | /test <link> all"
)

// maxIndex bounds /test indices; no feed carries this many entries.
const maxIndex = 1 << 16

// AddArgs holds the parsed arguments of /add.
type AddArgs struct {
	Name string
	Link string
}

// TestArgs holds the parsed arguments of /test. Start and End form the
// half-open range handed to the preview.
type TestArgs struct {
	Link  string
	Start int
	End   int
}

// ParseAddArgs parses "/add <name> <link>". Extra words are ignored.
func ParseAddArgs(args []string) (AddArgs, error) {
	if len(args) < 3 {
		return AddArgs{}, errors.New(usageAdd)
	}
	return AddArgs{Name: args[1], Link: args[2]}, nil
}

// ParseRemoveArgs parses "/remove <name>".
func ParseRemoveArgs(args []string) (string, error) {
	if len(args) < 2 {
		return "", errors.New(usageRemove)
	}
	return args[1], nil
}

// ParseTestArgs parses "/test <link> [start [end]]" and "/test <link> all".
// Indices are 0-based and inclusive; the default is the first entry only.
func ParseTestArgs(args []string) (TestArgs, error) {
	if len(args) < 2 {
		return TestArgs{}, errors.New(usageTest)
	}
	ta := TestArgs{Link: args[1], Start: 0, End: 1}

	switch {
	case len(args) >= 3 && args[2] == "all":
		ta.End = feeds.ToEnd
	case len(args) == 3:
		start, err := parseIndex(args[2])
		if err != nil {
			return TestArgs{}, err
		}
		ta.Start, ta.End = start, start+1
	case len(args) >= 4:
		start, err := parseIndex(args[2])
		if err != nil {
			return TestArgs{}, err
		}
		end, err := parseIndex(args[3])
		if err != nil {
			return TestArgs{}, err
		}
		if end < start {
			return TestArgs{}, fmt.Errorf("end %d is before start %d\n%s", end, start, usageTest)
		}
		ta.Start, ta.End = start, end+1
	}
	return ta, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxIndex {
		return 0, fmt.Errorf("invalid index %q, must be an integer from 0 to %d\n%s", s, maxIndex, usageTest)
	}
	return n, nil
}
