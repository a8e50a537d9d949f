package adbreak

import (
	"sync"

	"EchoFM/model"
)

// memoryStore holds policy state for a single anonymous session. It dies
// with the process, which is exactly the intended semantics: anonymous
// listeners get ephemeral policy state.
type memoryStore struct {
	mu    sync.Mutex
	state model.AdPolicyState
}

// NewMemoryStore 创建匿名会话用的内存策略存储
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) GetState(userID int64) (*model.AdPolicyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.UserID = userID
	return &st, nil
}

func (s *memoryStore) PutState(state *model.AdPolicyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = *state
	return nil
}
