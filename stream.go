package mcpflow

import "strings"

// Stream is an iterator over assistant text fragments from PromptStream.
// Usage:
//
//	stream := agent.PromptStream(ctx, "prompt")
//	for stream.Next() {
//	    fmt.Print(stream.Current())
//	}
//	if err := stream.Err(); err != nil {
//	    // handle error
//	}
type Stream struct {
	fragments chan string
	current   string
	collected strings.Builder
	err       error
	done      bool
}

func newStream(fragments chan string) *Stream {
	return &Stream{fragments: fragments}
}

// Next advances to the next fragment. Returns false when the stream is
// exhausted.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	fragment, ok := <-s.fragments
	if !ok {
		s.done = true
		return false
	}
	s.current = fragment
	s.collected.WriteString(fragment)
	return true
}

// Current returns the most recent fragment returned by Next.
func (s *Stream) Current() string {
	return s.current
}

// Text returns every fragment consumed so far, concatenated.
func (s *Stream) Text() string {
	return s.collected.String()
}

// Err returns what ended the stream early, if anything. Valid after Next
// returns false.
func (s *Stream) Err() error {
	return s.err
}
