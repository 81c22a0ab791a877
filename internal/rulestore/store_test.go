package rulestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"picowatch-alert/internal/models"
)

type fakeRepository struct {
	updated    bool
	checkErr   error
	loadErr    error
	clearErr   error
	rules      []models.Rule
	checkCalls int
	loadCalls  int
	clearCalls int
}

func (f *fakeRepository) CheckUpdated(ctx context.Context) (bool, error) {
	f.checkCalls++
	return f.updated, f.checkErr
}

func (f *fakeRepository) ClearUpdated(ctx context.Context) error {
	f.clearCalls++
	if f.clearErr == nil {
		f.updated = false
	}
	return f.clearErr
}

func (f *fakeRepository) LoadRules(ctx context.Context) ([]models.Rule, error) {
	f.loadCalls++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.rules, nil
}

func testRules() []models.Rule {
	return []models.Rule{
		{ID: 1, Name: "Crowded lobby"},
		{ID: 2, Name: "Hot room", TestOnly: true},
	}
}

func TestRefreshIfNeeded_FirstCallAlwaysLoads(t *testing.T) {
	repo := &fakeRepository{rules: testRules()}
	store := NewStore(repo, zap.NewNop())

	store.RefreshIfNeeded(context.Background())

	assert.Equal(t, 0, repo.checkCalls)
	assert.Equal(t, 1, repo.loadCalls)
	assert.Equal(t, 1, repo.clearCalls)
	assert.Len(t, store.Rules(), 2)
}

func TestRefreshIfNeeded_SkipsWhenFlagUnset(t *testing.T) {
	repo := &fakeRepository{rules: testRules()}
	store := NewStore(repo, zap.NewNop())

	store.RefreshIfNeeded(context.Background())
	store.RefreshIfNeeded(context.Background())
	store.RefreshIfNeeded(context.Background())

	assert.Equal(t, 2, repo.checkCalls)
	assert.Equal(t, 1, repo.loadCalls)
}

func TestRefreshIfNeeded_ReloadsWhenFlagSet(t *testing.T) {
	repo := &fakeRepository{rules: testRules()}
	store := NewStore(repo, zap.NewNop())

	store.RefreshIfNeeded(context.Background())

	repo.rules = append(testRules(), models.Rule{ID: 3, Name: "New rule"})
	repo.updated = true
	store.RefreshIfNeeded(context.Background())

	assert.Equal(t, 2, repo.loadCalls)
	assert.Len(t, store.Rules(), 3)
}

func TestRefreshIfNeeded_KeepsCacheOnLoadFailure(t *testing.T) {
	repo := &fakeRepository{rules: testRules()}
	store := NewStore(repo, zap.NewNop())

	store.RefreshIfNeeded(context.Background())

	repo.updated = true
	repo.loadErr = errors.New("store unreachable")
	store.RefreshIfNeeded(context.Background())

	assert.Len(t, store.Rules(), 2)
}

func TestRefreshIfNeeded_KeepsCacheOnCheckFailure(t *testing.T) {
	repo := &fakeRepository{rules: testRules()}
	store := NewStore(repo, zap.NewNop())

	store.RefreshIfNeeded(context.Background())

	repo.checkErr = errors.New("store unreachable")
	store.RefreshIfNeeded(context.Background())

	assert.Equal(t, 1, repo.loadCalls)
	assert.Len(t, store.Rules(), 2)
}

func TestStore_CooldownSurvivesReload(t *testing.T) {
	repo := &fakeRepository{rules: testRules()}
	store := NewStore(repo, zap.NewNop())

	store.RefreshIfNeeded(context.Background())

	sentAt := time.Now()
	store.MarkSent(1, sentAt)

	repo.updated = true
	store.RefreshIfNeeded(context.Background())

	got, ok := store.LastSent(1)
	require.True(t, ok)
	assert.Equal(t, sentAt, got)
}

func TestStore_Find(t *testing.T) {
	repo := &fakeRepository{rules: testRules()}
	store := NewStore(repo, zap.NewNop())
	store.RefreshIfNeeded(context.Background())

	rule, ok := store.Find(2)
	require.True(t, ok)
	assert.Equal(t, "Hot room", rule.Name)

	_, ok = store.Find(99)
	assert.False(t, ok)
}
