package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SimConfig struct {
	NumUsers       int
	SimulationTime time.Duration
	SendFrequency  float64 // messages per user per minute
	EditChance     float64 // fraction of own messages edited afterwards
	ReactChance    float64 // fraction of sends answered with a reaction
	EngineURL      string
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	TotalMessages    int
	TotalEdits       int
	TotalReactions   int
	RequestLatencies []time.Duration
}

type SimulatedUser struct {
	ID       uuid.UUID
	Username string
	Token    string

	// Conversations this user holds open, with the messages it sent there.
	Conversations map[uuid.UUID][]uuid.UUID
}

type Simulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	mu     sync.RWMutex
}

func NewSimulator(config SimConfig) *Simulator {
	return &Simulator{
		config: config,
		stats: &SimulationStats{
			StartTime:        time.Now(),
			RequestLatencies: make([]time.Duration, 0),
		},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run drives the whole simulation: mint identities, pair everyone into
// conversations, open sessions and generate chat traffic until the
// context expires.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.setupUsers(); err != nil {
		return fmt.Errorf("user setup failed: %w", err)
	}
	if err := s.setupConversations(); err != nil {
		return fmt.Errorf("conversation setup failed: %w", err)
	}

	var wg sync.WaitGroup
	for _, user := range s.users {
		wg.Add(1)
		go func(u *SimulatedUser) {
			defer wg.Done()
			s.chatLoop(ctx, u)
		}(user)
	}
	wg.Wait()
	return nil
}

func (s *Simulator) setupUsers() error {
	for i := 0; i < s.config.NumUsers; i++ {
		user := &SimulatedUser{
			ID:            uuid.New(),
			Username:      fmt.Sprintf("sim_user_%d", i),
			Conversations: make(map[uuid.UUID][]uuid.UUID),
		}

		var resp struct {
			Token string `json:"token"`
		}
		err := s.post(user, "/token", map[string]string{"userId": user.ID.String()}, &resp)
		if err != nil {
			return err
		}
		user.Token = resp.Token
		s.users = append(s.users, user)
	}
	log.Printf("Created %d simulated users", len(s.users))
	return nil
}

// setupConversations pairs each user with the next two, opening the direct
// conversation from both sides at once to exercise the creation race.
func (s *Simulator) setupConversations() error {
	n := len(s.users)
	if n < 2 {
		return fmt.Errorf("need at least 2 users, have %d", n)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i, user := range s.users {
		for _, other := range []*SimulatedUser{s.users[(i+1)%n], s.users[(i+2)%n]} {
			if other == user {
				continue
			}
			open := func(u, peer *SimulatedUser) {
				defer wg.Done()
				var conv struct {
					ID uuid.UUID `json:"id"`
				}
				if err := s.post(u, "/conversations", map[string]string{"otherId": peer.ID.String()}, &conv); err != nil {
					errs <- err
					return
				}
				if err := s.openSession(u, conv.ID); err != nil {
					errs <- err
					return
				}
				s.mu.Lock()
				if _, known := u.Conversations[conv.ID]; !known {
					u.Conversations[conv.ID] = nil
				}
				s.mu.Unlock()
			}
			wg.Add(2)
			go open(user, other)
			go open(other, user)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	log.Printf("Opened sessions for %d users", n)
	return nil
}

func (s *Simulator) openSession(u *SimulatedUser, conversationID uuid.UUID) error {
	url := fmt.Sprintf("%s/session?conversationId=%s", s.config.EngineURL, conversationID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+u.Token)
	return s.do(req, nil)
}

func (s *Simulator) chatLoop(ctx context.Context, u *SimulatedUser) {
	interval := time.Duration(float64(time.Minute) / s.config.SendFrequency)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			convID, ok := s.randomConversation(u)
			if !ok {
				continue
			}
			msgID, err := s.sendMessage(u, convID)
			if err != nil {
				continue
			}

			s.mu.Lock()
			u.Conversations[convID] = append(u.Conversations[convID], msgID)
			s.mu.Unlock()
			s.stats.mu.Lock()
			s.stats.TotalMessages++
			s.stats.mu.Unlock()

			if rand.Float64() < s.config.EditChance {
				s.editMessage(u, convID, msgID)
			}
			if rand.Float64() < s.config.ReactChance {
				s.react(u, convID, msgID)
			}
		}
	}
}

func (s *Simulator) randomConversation(u *SimulatedUser) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range u.Conversations {
		return id, true
	}
	return uuid.Nil, false
}

func (s *Simulator) sendMessage(u *SimulatedUser, convID uuid.UUID) (uuid.UUID, error) {
	var msg struct {
		ID uuid.UUID `json:"id"`
	}
	err := s.post(u, "/messages", map[string]string{
		"conversationId": convID.String(),
		"content":        fmt.Sprintf("hello from %s at %d", u.Username, time.Now().UnixNano()),
	}, &msg)
	return msg.ID, err
}

func (s *Simulator) editMessage(u *SimulatedUser, convID, msgID uuid.UUID) {
	body, _ := json.Marshal(map[string]string{
		"conversationId": convID.String(),
		"messageId":      msgID.String(),
		"content":        "edited: " + time.Now().Format(time.RFC3339Nano),
	})
	req, err := http.NewRequest(http.MethodPut, s.config.EngineURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.Token)
	if s.do(req, nil) == nil {
		s.stats.mu.Lock()
		s.stats.TotalEdits++
		s.stats.mu.Unlock()
	}
}

func (s *Simulator) react(u *SimulatedUser, convID, msgID uuid.UUID) {
	err := s.post(u, "/reactions", map[string]string{
		"conversationId": convID.String(),
		"messageId":      msgID.String(),
		"emoji":          []string{"👍", "😂", "❤️"}[rand.Intn(3)],
	}, nil)
	if err == nil {
		s.stats.mu.Lock()
		s.stats.TotalReactions++
		s.stats.mu.Unlock()
	}
}

func (s *Simulator) post(u *SimulatedUser, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.config.EngineURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if u != nil && u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}
	return s.do(req, out)
}

func (s *Simulator) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	s.stats.mu.Lock()
	s.stats.TotalRequests++
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, latency)
	if err != nil || resp.StatusCode >= 400 {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}
	s.stats.mu.Unlock()

	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Metrics returns a copy of the accumulated counters.
func (s *Simulator) Metrics() SimulationStats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return SimulationStats{
		StartTime:       s.stats.StartTime,
		TotalRequests:   s.stats.TotalRequests,
		SuccessRequests: s.stats.SuccessRequests,
		FailedRequests:  s.stats.FailedRequests,
		TotalMessages:   s.stats.TotalMessages,
		TotalEdits:      s.stats.TotalEdits,
		TotalReactions:  s.stats.TotalReactions,
	}
}
