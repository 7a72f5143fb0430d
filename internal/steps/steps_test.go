package steps_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/report"
)

// runWith runs steps in a Process whose first step returns input.
func runWith(t *testing.T, ectx *etl.Context, input any, steps ...etl.Step) (any, error) {
	t.Helper()
	if ectx.Report == nil {
		ectx.Report = report.NewWithID("run", time.Now())
	}
	all := append([]etl.Step{
		etl.NewFunc("input", false, func(context.Context, any, *etl.Context) (any, error) {
			return input, nil
		}),
	}, steps...)
	return etl.NewProcess("test", all...).RunAll(context.Background(), ectx)
}

func mustRun(t *testing.T, ectx *etl.Context, input any, steps ...etl.Step) any {
	t.Helper()
	out, err := runWith(t, ectx, input, steps...)
	require.NoError(t, err)
	return out
}
