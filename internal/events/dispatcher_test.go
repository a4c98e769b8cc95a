package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	titles    map[string]string
	messages  []domain.DiscussionMessage
	companies []int64
	watchers  map[string][]string
	createErr error
	syncErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{titles: map[string]string{}, watchers: map[string][]string{}}
}

func (f *fakeStore) CreateMessage(_ context.Context, companyID int64, m domain.DiscussionMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	if _, ok := f.titles[m.DiscussionID]; !ok {
		f.titles[m.DiscussionID] = m.Title
	}
	f.messages = append(f.messages, m)
	f.companies = append(f.companies, companyID)
	return int64(len(f.messages)), nil
}

func (f *fakeStore) Title(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titles[id], nil
}

func (f *fakeStore) SyncWatchers(_ context.Context, id string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	f.watchers[id] = append(f.watchers[id], ids...)
	return nil
}

func newDispatcher(store DiscussionStore, log *zap.Logger) *Dispatcher {
	d := NewDispatcher(log)
	NewDiscussionHandler(store, log).Register(d)
	return d
}

func TestRefThread(t *testing.T) {
	assert.Equal(t, "TASK-42", Ref{Module: "task", TargetID: "42"}.Thread())
	assert.Equal(t, "custom", Ref{Module: "task", TargetID: "42", DiscussionID: "custom"}.Thread())
}

func TestCreateWithoutTenantIsNoop(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, zap.NewNop())

	d.Create(context.Background(), CreateEvent{
		Ref:      Ref{Module: "task", TargetID: "1", ActorID: "u1"},
		Title:    "Fix bug",
		Watchers: []string{"u1"},
	})

	assert.Empty(t, store.messages)
	assert.Empty(t, store.watchers)
}

func TestCreatePostsOpeningMessageAndWatchers(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, zap.NewNop())

	d.Create(context.Background(), CreateEvent{
		Ref:      Ref{Module: "task", TargetID: "7", CompanyID: 3, ActorID: "u1"},
		Title:    "Fix bug",
		Watchers: []string{"u1", "u2", "u1", ""},
	})

	require.Len(t, store.messages, 1)
	m := store.messages[0]
	assert.Equal(t, "TASK-7", m.DiscussionID)
	assert.Equal(t, "Fix bug", m.Title)
	assert.Equal(t, ActivityCreated, m.Activity)
	assert.Equal(t, `<p data-module="task">Discussion created</p>`, m.Content)
	assert.Equal(t, "u1", m.ActorID)
	assert.Equal(t, []int64{3}, store.companies)
	assert.Equal(t, []string{"u1", "u2"}, store.watchers["TASK-7"])
}

func TestUpdateActionAndMessageUseExistingTitle(t *testing.T) {
	store := newFakeStore()
	store.titles["TASK-9"] = "Ship it"
	d := newDispatcher(store, zap.NewNop())
	ref := Ref{Module: "task", TargetID: "9", CompanyID: 3, ActorID: "u2"}

	d.Update(context.Background(), UpdateEvent{Ref: ref})
	d.Action(context.Background(), ActionEvent{Ref: ref, Action: "completed"})
	d.Message(context.Background(), MessageEvent{Ref: ref, Content: "looks good"})

	require.Len(t, store.messages, 3)
	assert.Equal(t, ActivityUpdated, store.messages[0].Activity)
	assert.Equal(t, `<p data-module="task">Made an update.</p>`, store.messages[0].Content)
	assert.Equal(t, "completed", store.messages[1].Activity)
	assert.Equal(t, `<p data-module="task">Marked this as completed.</p>`, store.messages[1].Content)
	assert.Equal(t, ActivityComment, store.messages[2].Activity)
	assert.Equal(t, "looks good", store.messages[2].Content)
	for _, m := range store.messages {
		assert.Equal(t, "Ship it", m.Title)
	}
}

func TestHandlerErrorsAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := newFakeStore()
	store.createErr = errors.New("db down")
	d := newDispatcher(store, zap.New(core))

	assert.NotPanics(t, func() {
		d.Create(context.Background(), CreateEvent{Ref: Ref{Module: "task", TargetID: "1", CompanyID: 1}})
		d.Message(context.Background(), MessageEvent{Ref: Ref{Module: "task", TargetID: "1"}, Content: "hi"})
	})
	assert.Equal(t, 2, logs.FilterMessage("event handler failed").Len())
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	d := NewDispatcher(zap.New(core))
	var second bool
	d.Subscribe(KindAction, HandlerFunc(func(context.Context, Event) error { panic("boom") }))
	d.Subscribe(KindAction, HandlerFunc(func(context.Context, Event) error {
		second = true
		return nil
	}))

	d.Action(context.Background(), ActionEvent{Ref: Ref{Module: "task", TargetID: "1"}, Action: "moved"})

	assert.True(t, second)
	assert.Equal(t, 1, logs.FilterMessage("event handler panicked").Len())
}
