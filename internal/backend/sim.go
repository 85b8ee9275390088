package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelbarros/feira/internal/store"
)

// ErrDelivery is the generic delivery error the simulator returns for
// injected failures.
var ErrDelivery = errors.New("backend: delivery failed")

// SimOptions tune the simulated backend.
type SimOptions struct {
	// Latency applied to every call, imitating network round trips.
	Latency time.Duration
	// FailureRate in [0,1): probability that SendMessage fails.
	FailureRate float64
}

// Simulator is an in-memory backend used by the demo daemon and by tests.
// It answers after a configurable latency and can be told to fail sends,
// either randomly (FailureRate) or deterministically (SetFailFunc).
type Simulator struct {
	mu       sync.Mutex
	latency  time.Duration
	failRate float64
	rng      *rand.Rand
	failFunc func(p store.MessagePayload) error

	users    map[string]User
	convos   []Conversation
	messages map[string][]Message
}

// NewSimulator creates a simulator pre-seeded with demo marketplace data.
func NewSimulator(opts SimOptions) *Simulator {
	s := &Simulator{
		latency:  opts.Latency,
		failRate: opts.FailureRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		users:    make(map[string]User),
		messages: make(map[string][]Message),
	}
	s.seed()
	return s
}

// SetFailFunc installs a deterministic failure hook for SendMessage. Pass
// nil to remove it. Used by tests and the demo's flaky-network mode.
func (s *Simulator) SetFailFunc(fn func(p store.MessagePayload) error) {
	s.mu.Lock()
	s.failFunc = fn
	s.mu.Unlock()
}

// SetLatency overrides the simulated latency.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// SendMessage confirms a message after the simulated latency, assigning a
// server id and timestamp. Implements MessageSender.
func (s *Simulator) SendMessage(ctx context.Context, p store.MessagePayload) (*Message, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failFunc != nil {
		if err := s.failFunc(p); err != nil {
			return nil, err
		}
	}
	if s.failRate > 0 && s.rng.Float64() < s.failRate {
		return nil, ErrDelivery
	}

	msg := Message{
		ID:          "m-" + uuid.NewString(),
		ChatID:      p.ChatID,
		SenderID:    p.SenderID,
		Content:     p.Content,
		CreatedAt:   time.Now(),
		Status:      StatusSent,
		ClientID:    p.ClientID,
		Attachments: p.Attachments,
	}
	s.messages[p.ChatID] = append(s.messages[p.ChatID], msg)
	for i := range s.convos {
		if s.convos[i].ID == p.ChatID {
			s.convos[i].UpdatedAt = msg.CreatedAt
			break
		}
	}
	return &msg, nil
}

// FetchMessages returns the stored history for a chat, oldest first.
func (s *Simulator) FetchMessages(ctx context.Context, chatID string) ([]Message, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[chatID]...), nil
}

// FetchConversations returns the conversations a user participates in,
// each with its last message attached.
func (s *Simulator) FetchConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for _, c := range s.convos {
		member := false
		for _, p := range c.Participants {
			if p == userID {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		if msgs := s.messages[c.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		out = append(out, c)
	}
	return out, nil
}

// CreateConversation registers a new conversation between the given users.
func (s *Simulator) CreateConversation(ctx context.Context, participantIDs []string, isGroup bool, groupName string) (*Conversation, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	if len(participantIDs) < 2 {
		return nil, fmt.Errorf("backend: conversation needs at least 2 participants, got %d", len(participantIDs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c := Conversation{
		ID:                "c-" + uuid.NewString(),
		Participants:      append([]string(nil), participantIDs...),
		ParticipantNames:  make(map[string]string),
		ParticipantImages: make(map[string]string),
		IsGroup:           isGroup,
		GroupName:         groupName,
		CreatedBy:         participantIDs[0],
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, id := range participantIDs {
		if u, ok := s.users[id]; ok {
			c.ParticipantNames[id] = u.Name
			c.ParticipantImages[id] = u.ProfileImage
		}
	}
	s.convos = append([]Conversation{c}, s.convos...)
	return &c, nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) seed() {
	users := []User{
		{ID: "u-ana", Name: "Ana Ribeiro", ProfileImage: "https://cdn.feira.app/u/ana.jpg"},
		{ID: "u-bruno", Name: "Bruno Sítio Boa Vista", ProfileImage: "https://cdn.feira.app/u/bruno.jpg"},
		{ID: "u-carla", Name: "Carla Menezes", ProfileImage: "https://cdn.feira.app/u/carla.jpg"},
	}
	for _, u := range users {
		s.users[u.ID] = u
	}

	now := time.Now()
	c1 := Conversation{
		ID:           "c-demo-1",
		Participants: []string{"u-ana", "u-bruno"},
		ParticipantNames: map[string]string{
			"u-ana": "Ana Ribeiro", "u-bruno": "Bruno Sítio Boa Vista",
		},
		ParticipantImages: map[string]string{},
		CreatedBy:         "u-ana",
		CreatedAt:         now.Add(-48 * time.Hour),
		UpdatedAt:         now.Add(-1 * time.Hour),
	}
	c2 := Conversation{
		ID:           "c-demo-2",
		Participants: []string{"u-ana", "u-bruno", "u-carla"},
		ParticipantNames: map[string]string{
			"u-ana": "Ana Ribeiro", "u-bruno": "Bruno Sítio Boa Vista", "u-carla": "Carla Menezes",
		},
		ParticipantImages: map[string]string{},
		IsGroup:           true,
		GroupName:         "Cesta da semana",
		CreatedBy:         "u-carla",
		CreatedAt:         now.Add(-96 * time.Hour),
		UpdatedAt:         now.Add(-30 * time.Minute),
	}
	s.convos = []Conversation{c2, c1}

	s.messages["c-demo-1"] = []Message{
		{
			ID: "m-demo-1", ChatID: "c-demo-1", SenderID: "u-bruno",
			Content:   "Oi Ana! Os tomates chegam amanhã cedo.",
			CreatedAt: now.Add(-2 * time.Hour), IsRead: true, Status: StatusRead,
		},
		{
			ID: "m-demo-2", ChatID: "c-demo-1", SenderID: "u-ana",
			Content:   "Perfeito, pode deixar na banca 12?",
			CreatedAt: now.Add(-1 * time.Hour), Status: StatusDelivered,
		},
	}
	s.messages["c-demo-2"] = []Message{
		{
			ID: "m-demo-3", ChatID: "c-demo-2", SenderID: "u-carla",
			Content:   "Fechando os pedidos da cesta hoje às 18h!",
			CreatedAt: now.Add(-30 * time.Minute), Status: StatusDelivered,
		},
	}
}
