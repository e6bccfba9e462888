package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply string
		want  Verdict
		err   bool
	}{
		{"是", Plausible, false},
		{" 是。", Plausible, false},
		{"「是」", Plausible, false},
		{"Yes", Plausible, false},
		{"yes.", Plausible, false},
		{"否", Implausible, false},
		{"不是", Implausible, false},
		{"No", Implausible, false},
		{"no, not a task", Implausible, false},
		{"Yes it is", Plausible, false},
		{"", Unknown, true},
		{"maybe", Unknown, true},
		{"not sure", Unknown, true},
		{"none", Unknown, true},
		{"yesterday", Unknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, err := ParseVerdict(tt.reply)
			if tt.err {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNoVerdict))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt("9A觀測所佈覽", "12/17\n軍K-20539 9A觀測所佈覽用車")
	assert.Contains(t, p, `"9A觀測所佈覽"`)
	assert.Contains(t, p, "原始訊息")
	assert.Contains(t, p, `請只回答 "是" 或 "否"`)

	assert.NotContains(t, Prompt("線巡", "  "), "原始訊息")
}

func TestStubs(t *testing.T) {
	ctx := context.Background()

	v, err := Always(Implausible).CheckTaskName(ctx, "x", "")
	require.NoError(t, err)
	assert.Equal(t, Implausible, v)

	boom := errors.New("boom")
	_, err = Failing(boom).CheckTaskName(ctx, "x", "")
	assert.ErrorIs(t, err, boom)

	hctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = Hang().CheckTaskName(hctx, "x", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCounting(t *testing.T) {
	c := &Counting{Next: Always(Plausible)}
	for i := 0; i < 3; i++ {
		v, err := c.CheckTaskName(context.Background(), "線巡", "")
		require.NoError(t, err)
		assert.Equal(t, Plausible, v)
	}
	assert.Equal(t, 3, c.Calls())
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "plausible", Plausible.String())
	assert.Equal(t, "implausible", Implausible.String())
	assert.Equal(t, "unknown", Unknown.String())
}
