package extensions

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/nikolalohinski/gonja/v2/exec"
)

var (
	ugcPolicyOnce sync.Once
	ugcPolicy     *bluemonday.Policy

	stripPolicyOnce sync.Once
	stripPolicy     *bluemonday.Policy
)

// htmlExtension adds the sanitize and striptags_html filters.
type htmlExtension struct{}

func (htmlExtension) Name() string { return "html" }

func (htmlExtension) Apply(env *exec.Environment) error {
	if err := putFilter(env.Filters, "sanitize", filterSanitize); err != nil {
		return err
	}
	return putFilter(env.Filters, "striptags_html", filterStripTagsHTML)
}

func filterSanitize(_ *exec.Evaluator, in *exec.Value, _ *exec.VarArgs) *exec.Value {
	if in.IsError() {
		return in
	}
	return exec.AsSafeValue(ugcSanitizer().Sanitize(in.String()))
}

func filterStripTagsHTML(_ *exec.Evaluator, in *exec.Value, _ *exec.VarArgs) *exec.Value {
	if in.IsError() {
		return in
	}
	return exec.AsValue(strings.TrimSpace(stripSanitizer().Sanitize(in.String())))
}

func ugcSanitizer() *bluemonday.Policy {
	ugcPolicyOnce.Do(func() {
		ugcPolicy = bluemonday.UGCPolicy()
	})
	return ugcPolicy
}

func stripSanitizer() *bluemonday.Policy {
	stripPolicyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})
	return stripPolicy
}

func putFilter(set *exec.FilterSet, name string, fn exec.FilterFunction) error {
	if set.Exists(name) {
		return set.Replace(name, fn)
	}
	return set.Register(name, fn)
}
