package session

// AnswerMap maps a 0-based question index to the selected option index.
// A missing key means the question is unanswered.
type AnswerMap map[int]int

// Clone returns an independent copy.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Ordered returns one entry per question, nil where unanswered.
// This is the shape stored with a submission.
func (m AnswerMap) Ordered(questionCount int) []*int {
	out := make([]*int, questionCount)
	for i := 0; i < questionCount; i++ {
		if v, ok := m[i]; ok {
			opt := v
			out[i] = &opt
		}
	}
	return out
}

// AnswerStore holds the in-progress answers of one session. It is owned by
// the controller loop and is not safe for concurrent use.
type AnswerStore struct {
	count   int
	answers AnswerMap
}

// NewAnswerStore creates an empty store for questionCount questions.
func NewAnswerStore(questionCount int) *AnswerStore {
	return &AnswerStore{
		count:   questionCount,
		answers: make(AnswerMap, questionCount),
	}
}

// Get returns the selected option for a question.
func (s *AnswerStore) Get(index int) (int, bool) {
	opt, ok := s.answers[index]
	return opt, ok
}

// Set records an answer, overwriting any earlier one.
func (s *AnswerStore) Set(index, option int) error {
	if index < 0 || index >= s.count {
		return ErrIndexOutOfRange
	}
	s.answers[index] = option
	return nil
}

// Answered returns how many questions have an answer.
func (s *AnswerStore) Answered() int { return len(s.answers) }

// Snapshot returns a copy suitable for serialization.
func (s *AnswerStore) Snapshot() AnswerMap { return s.answers.Clone() }

// Restore replaces the store contents with m. Entries outside the question
// range are dropped; the number dropped is returned.
func (s *AnswerStore) Restore(m AnswerMap) int {
	s.answers = make(AnswerMap, len(m))
	dropped := 0
	for k, v := range m {
		if k < 0 || k >= s.count {
			dropped++
			continue
		}
		s.answers[k] = v
	}
	return dropped
}
