package stages

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/yschiu11/tgcf/pkg/config"
	"github.com/yschiu11/tgcf/pkg/engine"
)

type replacement struct {
	pattern string
	re      *regexp.Regexp
	with    string
}

// replaceStage rewrites message text. Replacements apply in sorted
// pattern order so the result is deterministic across runs.
type replaceStage struct {
	rules []replacement
}

func newReplace(cfg config.ReplaceConfig) (*replaceStage, error) {
	patterns := make([]string, 0, len(cfg.Text))
	for p := range cfg.Text {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	st := &replaceStage{rules: make([]replacement, 0, len(patterns))}
	for _, p := range patterns {
		r := replacement{pattern: p, with: cfg.Text[p]}
		if cfg.Regex {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, err
			}
			r.re = re
		}
		st.rules = append(st.rules, r)
	}
	return st, nil
}

func (st *replaceStage) ID() string { return "replace" }

func (st *replaceStage) Modify(_ context.Context, m *engine.Message) (*engine.Message, error) {
	if m.Text == "" {
		return m, nil
	}
	for _, r := range st.rules {
		if r.re != nil {
			m.Text = r.re.ReplaceAllString(m.Text, r.with)
		} else {
			m.Text = strings.ReplaceAll(m.Text, r.pattern, r.with)
		}
	}
	return m, nil
}
