package ui

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/edisco/internal/engine"
	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/store"
)

// policyKey is the preference row holding the saved view policy.
const policyKey = "view_policy"

const prefsTimeout = 5 * time.Second

// Prefs persists small key/value settings. *store.Store implements it.
type Prefs interface {
	Preference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
}

type savedPolicy struct {
	Window   engine.Window `json:"window"`
	Filter   string        `json:"filter,omitempty"`
	Term     string        `json:"term,omitempty"`
	Sort     string        `json:"sort,omitempty"`
	AnonOnly bool          `json:"anon_only,omitempty"`
}

func encodePolicy(p engine.Policy) (string, error) {
	sp := savedPolicy{
		Window:   p.Window,
		Sort:     p.Sort.Param(),
		AnonOnly: p.AnonOnly,
	}
	if p.Filter.Active() {
		sp.Filter = p.Filter.Mode.String()
		sp.Term = p.Filter.Term
	}
	data, err := json.Marshal(sp)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodePolicy(s string) (engine.Policy, error) {
	var sp savedPolicy
	if err := json.Unmarshal([]byte(s), &sp); err != nil {
		return engine.Policy{}, err
	}
	p := engine.DefaultPolicy()
	if !sp.Window.IsZero() {
		p.Window = sp.Window
	}
	p.Sort = engine.ParseSortMode(sp.Sort)
	p.AnonOnly = sp.AnonOnly
	switch sp.Filter {
	case "user":
		p.Filter = engine.NewFilter(engine.FilterByUser, sp.Term)
	case "article":
		p.Filter = engine.NewFilter(engine.FilterByArticle, sp.Term)
	}
	return p, nil
}

// LoadPolicy returns the saved view policy, or the default when none is
// stored or it cannot be read.
func LoadPolicy(ctx context.Context, prefs Prefs) engine.Policy {
	if prefs == nil {
		return engine.DefaultPolicy()
	}
	raw, err := prefs.Preference(ctx, policyKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Warn("load view policy", "err", err)
		}
		return engine.DefaultPolicy()
	}
	p, err := decodePolicy(raw)
	if err != nil {
		logging.Warn("saved view policy unreadable, using default", "err", err)
		return engine.DefaultPolicy()
	}
	return p
}

// savePolicy persists p in the background.
func savePolicy(prefs Prefs, p engine.Policy) tea.Cmd {
	return func() tea.Msg {
		raw, err := encodePolicy(p)
		if err != nil {
			return prefsSaved{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), prefsTimeout)
		defer cancel()
		return prefsSaved{err: prefs.SetPreference(ctx, policyKey, raw)}
	}
}
