package citation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(p *Parser, requestID string, tokens ...string) string {
	var out strings.Builder
	for _, tok := range tokens {
		out.WriteString(p.ProcessToken(requestID, tok))
	}
	return out.String()
}

func TestProcessTokenWholeTags(t *testing.T) {
	p := NewParser(0)

	out := feed(p, "r1", "Answer: ", "<BEGIN_SOURCES>", "a/b.pdf/1\n", "<END_SOURCES>", " done")

	assert.Equal(t, "Answer:  done", out)
	assert.True(t, p.IsSourcesReady("r1"))
	assert.Equal(t, []Source{{ID: "a", Name: "b.pdf", Page: "1"}}, p.GetSources("r1"))
}

func TestProcessTokenSplitTags(t *testing.T) {
	p := NewParser(0)

	out := feed(p, "r1", "Hello <BEGIN_", "SOURCES>x/y.pdf/2<END", "_SOURCES> world")

	assert.Equal(t, "Hello  world", out)
	assert.Equal(t, []Source{{ID: "x", Name: "y.pdf", Page: "2"}}, p.GetSources("r1"))
}

func TestProcessTokenCharacterByCharacter(t *testing.T) {
	text := "The answer is 42.<BEGIN_SOURCES>\nid-1/report.pdf/3\r\nid-2/notes.txt/1\n<END_SOURCES>"
	p := NewParser(0)

	var tokens []string
	for _, r := range text {
		tokens = append(tokens, string(r))
	}
	out := feed(p, "r1", tokens...)

	assert.Equal(t, "The answer is 42.", out)
	assert.Equal(t, []Source{
		{ID: "id-1", Name: "report.pdf", Page: "3"},
		{ID: "id-2", Name: "notes.txt", Page: "1"},
	}, p.GetSources("r1"))
}

func TestProcessTokenFalseAlarmIsReleased(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
	}{
		{"comparison in one token", []string{"if a < b then"}},
		{"dangling angle bracket", []string{"x <", "= y"}},
		{"partial tag broken", []string{"see <BEGIN", " later"}},
		{"html like", []string{"<b>bold</b>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(0)
			out := feed(p, "r", tt.tokens...)
			assert.Equal(t, strings.Join(tt.tokens, ""), out)
			assert.False(t, p.IsSourcesReady("r"))
		})
	}
}

func TestProcessTokenTagAfterFalseAlarm(t *testing.T) {
	p := NewParser(0)

	out := feed(p, "r", "a <", "b <BEGIN_SOU", "RCES>1/f.pdf/9<END_SOURCES>")

	assert.Equal(t, "a <b ", out)
	assert.Len(t, p.GetSources("r"), 1)
}

func TestProcessTokenKeepsRequestsIndependent(t *testing.T) {
	p := NewParser(0)

	assert.Equal(t, "one ", p.ProcessToken("a", "one <BEGIN_"))
	assert.Equal(t, "two", p.ProcessToken("b", "two"))
	assert.Equal(t, "", p.ProcessToken("a", "SOURCES>"))
	assert.Equal(t, " three", p.ProcessToken("b", " three"))
	assert.False(t, p.IsSourcesReady("b"))
	assert.Nil(t, p.GetSources("a"))
}

func TestParseSourcesDropsMalformedLines(t *testing.T) {
	payload := "\n  a/b.pdf/1 \nno-slashes\nx/y/z/w\n\n c / d.txt / 2\n"

	got := ParseSources(payload)

	assert.Equal(t, []Source{
		{ID: "a", Name: "b.pdf", Page: "1"},
		{ID: "c", Name: "d.txt", Page: "2"},
	}, got)
}

func TestEmptySourcesBlockIsReady(t *testing.T) {
	p := NewParser(0)

	out := feed(p, "r", "ok", "<BEGIN_SOURCES>\n<END_SOURCES>")

	assert.Equal(t, "ok", out)
	assert.True(t, p.IsSourcesReady("r"))
	assert.Empty(t, p.GetSources("r"))
}

func TestCompleteFlushesWithheldText(t *testing.T) {
	p := NewParser(0)

	assert.Equal(t, "a ", p.ProcessToken("r", "a <"))
	assert.Equal(t, "<", p.Complete("r"))
	assert.Equal(t, 0, p.Len())

	p.ProcessToken("r2", "x<BEGIN_SOURCES>1/a/2")
	assert.Equal(t, "", p.Complete("r2"), "unterminated block is dropped")
	assert.Equal(t, "", p.Complete("unknown"))
}

func TestGetSourcesReturnsCopy(t *testing.T) {
	p := NewParser(0)
	feed(p, "r", "<BEGIN_SOURCES>a/b/1<END_SOURCES>")

	got := p.GetSources("r")
	got[0].ID = "changed"

	assert.Equal(t, "a", p.GetSources("r")[0].ID)
}

func TestSweepDropsIdleRequests(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewParser(time.Minute)
	p.now = func() time.Time { return now }

	p.ProcessToken("old", "x")
	now = now.Add(2 * time.Minute)
	p.ProcessToken("fresh", "y")

	assert.Equal(t, 1, p.Sweep())
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 0, NewParser(0).Sweep())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p := NewParser(time.Nanosecond)
	p.ProcessToken("r", "x")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestConcurrentRequests(t *testing.T) {
	p := NewParser(0)
	var wg sync.WaitGroup
	results := make([]string, 32)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			results[i] = feed(p, id, "hi ", "<BEGIN_", "SOURCES>", fmt.Sprintf("%d/f.pdf/1", i), "<END_SOURCES>")
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		assert.Equal(t, "hi ", out)
		srcs := p.GetSources(fmt.Sprintf("req-%d", i))
		require.Len(t, srcs, 1)
		assert.Equal(t, fmt.Sprint(i), srcs[0].ID)
	}
}
