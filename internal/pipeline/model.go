// Package pipeline turns DOT definitions into ordered cascade tiers.
package pipeline

import (
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade/eval"
)

type Kind string

const (
	KindExpr  Kind = "expr"
	KindModel Kind = "model"
	KindHuman Kind = "human"
)

type Pipeline struct {
	Name   string
	Stages []Stage
}

// Stage is one tier of a pipeline as written in the DOT source.
type Stage struct {
	Name    string
	Kind    Kind
	Expr    *eval.Program
	Prompt  string
	Timeout time.Duration
	Retry   cascade.RetryPolicy
	Success *eval.Program
	Meta    []Assignment
}

type Assignment struct {
	Key   string
	Value any
}

func (p *Pipeline) StageNames() []string {
	out := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = s.Name
	}
	return out
}
