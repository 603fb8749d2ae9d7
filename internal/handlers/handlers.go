package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/podushkina/taskpool/internal/registry"
	"github.com/podushkina/taskpool/internal/task"
)

const (
	TypeEcho    task.Type = "echo"
	TypeReverse task.Type = "reverse"
	TypeSum     task.Type = "sum"
	TypeSlow    task.Type = "slow"
	TypeSleep   task.Type = "sleep_task"
)

const (
	sleepSteps           = 10
	defaultSleepDuration = time.Second
	slowDuration         = 5 * time.Second
)

var errRequestedFailure = errors.New("failure requested by parameters")

// Register adds the built-in handlers to r.
func Register(r *registry.Registry) error {
	builtin := map[task.Type]task.Handler{
		TypeEcho:    Echo,
		TypeReverse: Reverse,
		TypeSum:     Sum,
		TypeSlow:    Slow,
		TypeSleep:   Sleep,
	}
	for typ, h := range builtin {
		if err := r.Register(typ, h); err != nil {
			return err
		}
	}
	return nil
}

// Echo returns the "message" parameter. It fails when "fail" is true.
func Echo(ctx context.Context, ex *task.Execution) (any, error) {
	if fail, _ := ex.Params()["fail"].(bool); fail {
		return nil, errRequestedFailure
	}
	return fmt.Sprintf("echo: %v", ex.Params()["message"]), nil
}

// Reverse reverses the "text" parameter.
func Reverse(ctx context.Context, ex *task.Execution) (any, error) {
	text, ok := ex.Params()["text"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid params: expected string \"text\"")
	}

	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}

// Sum adds up the "numbers" parameter.
func Sum(ctx context.Context, ex *task.Execution) (any, error) {
	raw, ok := ex.Params()["numbers"].([]any)
	if !ok {
		return nil, fmt.Errorf("invalid params: expected array \"numbers\"")
	}

	var sum float64
	for i, v := range raw {
		n, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("invalid params: numbers[%d]: %w", i, err)
		}
		sum += n
	}
	return sum, nil
}

func Slow(ctx context.Context, ex *task.Execution) (any, error) {
	select {
	case <-time.After(slowDuration):
		return "completed after 5 seconds", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sleep waits for "duration" in ten equal steps, reporting progress after
// each one. "duration" is a Go duration string or a number of seconds.
func Sleep(ctx context.Context, ex *task.Execution) (any, error) {
	d, err := durationParam(ex.Params(), "duration", defaultSleepDuration)
	if err != nil {
		return nil, err
	}

	step := d / sleepSteps
	for i := 1; i <= sleepSteps; i++ {
		select {
		case <-time.After(step):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err := ex.Progress(float64(i) / sleepSteps); err != nil {
			return nil, err
		}
		ex.SetMetadata("step", i)
	}

	return map[string]any{"slept": d.String()}, nil
}

func durationParam(p task.Params, key string, fallback time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return fallback, nil
	}

	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("invalid params: %s: %w", key, err)
		}
		if parsed < 0 {
			return 0, fmt.Errorf("invalid params: %s must not be negative", key)
		}
		return parsed, nil
	default:
		secs, err := toFloat(v)
		if err != nil {
			return 0, fmt.Errorf("invalid params: %s: %w", key, err)
		}
		if secs < 0 {
			return 0, fmt.Errorf("invalid params: %s must not be negative", key)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
