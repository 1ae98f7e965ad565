package mrerrors

import (
	"context"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"nil":                              {nil, ExitOK},
		"ErrInvalidArgument":               {&ErrInvalidArgument{}, ExitInvalidArgument},
		"ErrCatalog":                       {&ErrCatalog{}, ExitCatalog},
		"ErrNotFound":                      {&ErrNotFound{}, ExitNotFound},
		"ErrReduction":                     {&ErrReduction{}, ExitReduction},
		"ErrWorkerUnavailable":             {&ErrWorkerUnavailable{}, ExitInfrastructure},
		"ErrTaskFailed":                    {&ErrTaskFailed{Cause: errors.New("boom")}, ExitTaskFailed},
		"pkg.Error => ErrNotFound":         {errors.WithMessage(&ErrNotFound{}, "foo"), ExitNotFound},
		"pkg.Error => ErrCatalog":          {errors.Wrap(&ErrCatalog{}, "foo"), ExitCatalog},
		"multierror => ErrCatalog":         {multierror.Append(nil, &ErrCatalog{}, &ErrNotFound{}), ExitCatalog},
		"task wrapping worker unavailable": {&ErrTaskFailed{Cause: &ErrWorkerUnavailable{}}, ExitInfrastructure},
		"cancelled":                        {errors.WithStack(context.Canceled), ExitCancelled},
		"pool closed":                      {errors.WithMessage(ErrPoolClosed, "foo"), ExitInfrastructure},
		"pkg.Error":                        {errors.New("foo"), ExitUnknown},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"catalog with path": {
			&ErrCatalog{Path: "Run2016/TT/TTLep", Message: "no files"},
			"catalog error in Run2016/TT/TTLep: no files",
		},
		"catalog without path": {
			&ErrCatalog{Message: "missing period"},
			"catalog error: missing period",
		},
		"not found with type": {
			&ErrNotFound{Type: "period", Value: "Run2019"},
			`period "Run2019" does not exist`,
		},
		"not found with message": {
			&ErrNotFound{Value: "WJets", Message: "check the samples file"},
			`resource "WJets" does not exist; check the samples file`,
		},
		"invalid argument": {
			&ErrInvalidArgument{Name: "maxWorkers", Value: -1, Message: "must not be negative"},
			`value -1 is invalid for field "maxWorkers"; must not be negative`,
		},
		"task failed on worker": {
			&ErrTaskFailed{Key: "Run2016/TT/TTLep", WorkerId: "w1", Cause: errors.New("missing column")},
			"task for sample Run2016/TT/TTLep failed on worker w1: missing column",
		},
		"reduction": {
			&ErrReduction{Path: "Run2016/TT", Key: "h_met", Message: "binning differs"},
			`cannot merge "h_met" for Run2016/TT: binning differs`,
		},
		"invalid state": {
			&ErrInvalidState{Component: "worker pool", State: "closed", Operation: "submit"},
			"worker pool cannot submit while closed",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestTaskFailedUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := errors.WithStack(&ErrTaskFailed{Key: "k", Cause: cause})
	assert.ErrorIs(t, err, cause)
}
