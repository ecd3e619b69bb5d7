package pack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
)

func TestSubTokens(t *testing.T) {
	assert.Equal(t, []string{"get", "user", "by", "id"}, subTokens("getUserById"))
	assert.Equal(t, []string{"get", "user"}, subTokens("get_user"))
	assert.Equal(t, []string{"http", "client"}, subTokens("HttpClient"))
	assert.Empty(t, subTokens("x"))
}

func TestStructuralTargets_CoversNameSignatureAndBody(t *testing.T) {
	c := Candidate{
		Name:      "fetchOrders",
		Signature: "def fetch_orders(customer_id, limit)",
		Content: `def fetch_orders(customer_id, limit):
    session = database.connect()
    rows = session.query(Order).filter(customer_id=customer_id)
    return rows[:limit]`,
	}

	targets := structuralTargets(c)

	for _, want := range []string{"fetch", "orders", "customer", "limit", "session", "database", "rows"} {
		assert.Contains(t, targets, want)
	}
}

func TestStructuralSimilarity(t *testing.T) {
	targets := map[string]struct{}{"fetch": {}, "orders": {}, "session": {}, "rows": {}}

	assert.Equal(t, 1.0, structuralSimilarity("fetch orders session rows", targets))
	assert.Equal(t, 0.5, structuralSimilarity("fetch orders only", targets))
	assert.Equal(t, 1.0, structuralSimilarity("anything", nil))
}

func TestBuildCapsule_SignatureFirstDocAndKeyLines(t *testing.T) {
	p := newTestPacker()
	c := Candidate{
		Name:      "getUserById",
		Signature: "func getUserById(id string) (*User, error)",
		Doc:       "getUserById loads a user from the primary store.\n\nIt caches misses for a minute.",
		Content: `func getUserById(id string) (*User, error) {
	row := db.QueryRow(selectUserSQL, id)
	var u User
	if err := row.Scan(&u.ID, &u.Name); err != nil {
		return nil, err
	}
	return &u, nil
}`,
	}

	out, n := p.buildCapsule(c, 120, testModel)

	require.NotEmpty(t, out)
	assert.LessOrEqual(t, n, 120)
	lines := strings.Split(out, "\n")
	// Signature leads; the doc keeps its first paragraph only.
	assert.Equal(t, c.Signature, lines[0])
	assert.Contains(t, out, "loads a user from the primary store")
	assert.NotContains(t, out, "caches misses")
	// The capsule's signature line is verbatim from the original.
	assert.Contains(t, c.Content, lines[0])
	assert.GreaterOrEqual(t, structuralSimilarity(out, structuralTargets(c)), SimilarityFloor)
}

func TestBuildCapsule_ZeroBudget(t *testing.T) {
	p := newTestPacker()
	out, n := p.buildCapsule(Candidate{Signature: "func a()"}, 0, testModel)
	assert.Empty(t, out)
	assert.Zero(t, n)
}

func TestSignatureCapsule_KeepsOnlyHeadAndDocLine(t *testing.T) {
	p := newTestPacker()
	c := Candidate{
		Signature: "class OrderService:",
		Doc:       "Coordinates order placement.",
		Content:   "class OrderService:\n    def place(self, order):\n        validate(order)\n        persist(order)",
	}

	out, _ := p.signatureCapsule(c, 60, testModel)

	assert.Equal(t, "class OrderService:\nCoordinates order placement.", out)
}

func TestSelectKeyLines_GreedyCoverageInSourceOrder(t *testing.T) {
	lines := []string{
		"alpha := compute(beta)",
		"gamma.store(alpha)",
		"unrelated()",
		"delta := gamma.load(beta)",
	}
	uncovered := map[string]struct{}{
		"alpha": {}, "beta": {}, "gamma": {}, "delta": {}, "compute": {},
	}

	got := selectKeyLines(lines, uncovered)

	// Greedy picks the best coverage first but returns source order.
	require.NotEmpty(t, got)
	assert.Equal(t, []string{"alpha := compute(beta)", "delta := gamma.load(beta)"}, got)
}

func TestTruncate_Strategies(t *testing.T) {
	p := newTestPacker()
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, strings.Repeat("x", 10)+string(rune('a'+i)))
	}
	content := strings.Join(lines, "\n")

	tests := []struct {
		strategy  bundle.TruncateStrategy
		wantFirst bool
		wantLast  bool
	}{
		{bundle.TruncateHead, true, false},
		{bundle.TruncateTail, false, true},
		{bundle.TruncateMiddle, true, true},
		{bundle.TruncateSmart, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			out, n := p.truncate(content, tt.strategy, 30, testModel)
			require.NotEmpty(t, out)
			assert.LessOrEqual(t, n, 30)
			assert.Contains(t, out, truncMarker)
			assert.Equal(t, tt.wantFirst, strings.Contains(out, lines[0]), "first line")
			assert.Equal(t, tt.wantLast, strings.Contains(out, lines[19]), "last line")
		})
	}
}

func TestTruncate_FitsUnchanged(t *testing.T) {
	p := newTestPacker()
	out, n := p.truncate("short line", bundle.TruncateSmart, 100, testModel)
	assert.Equal(t, "short line", out)
	assert.Greater(t, n, 0)
	assert.NotContains(t, out, truncMarker)
}

func TestTruncate_NothingSurvives(t *testing.T) {
	p := newTestPacker()
	long := strings.Repeat("wordwordword ", 100)
	out, n := p.truncate(long, bundle.TruncateHead, 1, testModel)
	assert.Empty(t, out)
	assert.Zero(t, n)
}
