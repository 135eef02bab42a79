package stages

import (
	"context"
	"regexp"
	"strings"

	"github.com/yschiu11/tgcf/pkg/config"
	"github.com/yschiu11/tgcf/pkg/engine"
)

// filterStage drops messages by text match. A blacklist hit always
// drops; with a non-empty whitelist, only matches pass.
type filterStage struct {
	cfg       config.FilterConfig
	blacklist []*regexp.Regexp
	whitelist []*regexp.Regexp
}

func newFilter(cfg config.FilterConfig) (*filterStage, error) {
	st := &filterStage{cfg: cfg}
	if cfg.Regex {
		var err error
		if st.blacklist, err = compileAll(cfg.Blacklist); err != nil {
			return nil, err
		}
		if st.whitelist, err = compileAll(cfg.Whitelist); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out[i] = re
	}
	return out, nil
}

func (st *filterStage) ID() string { return "filter" }

func (st *filterStage) Modify(_ context.Context, m *engine.Message) (*engine.Message, error) {
	if st.matches(m.Text, st.cfg.Blacklist, st.blacklist) {
		return nil, nil
	}
	if len(st.cfg.Whitelist) > 0 && !st.matches(m.Text, st.cfg.Whitelist, st.whitelist) {
		return nil, nil
	}
	return m, nil
}

func (st *filterStage) matches(text string, patterns []string, compiled []*regexp.Regexp) bool {
	if st.cfg.Regex {
		for _, re := range compiled {
			if re.MatchString(text) {
				return true
			}
		}
		return false
	}
	if !st.cfg.CaseSensitive {
		text = strings.ToLower(text)
	}
	for _, p := range patterns {
		if !st.cfg.CaseSensitive {
			p = strings.ToLower(p)
		}
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
