package vector

import (
	"reflect"
	"testing"
)

func hit(id, content string) Hit {
	return Hit{ID: id, Payload: map[string]interface{}{"content": content}}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"mixed punctuation", "Hello, World! v2.0", []string{"hello", "world", "v2", "0"}},
		{"hebrew text", "שלום עולם", []string{"שלום", "עולם"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestScoreBM25Ranking(t *testing.T) {
	candidates := []Hit{
		hit("a", "the payment gateway handles refunds and chargebacks"),
		hit("b", "refunds refunds refunds are processed nightly by the refunds batch"),
		hit("c", "user onboarding flow and welcome emails"),
	}

	scored := ScoreBM25([]string{"refunds"}, candidates)
	if len(scored) != 2 {
		t.Fatalf("got %d scored hits, want 2 (non-matching dropped)", len(scored))
	}
	if scored[0].ID != "b" {
		t.Errorf("top hit = %s, want b (higher term frequency)", scored[0].ID)
	}
	if scored[0].Score <= scored[1].Score {
		t.Errorf("scores not descending: %v then %v", scored[0].Score, scored[1].Score)
	}
}

func TestScoreBM25Deterministic(t *testing.T) {
	candidates := []Hit{
		hit("z", "alpha beta"),
		hit("a", "alpha beta"),
	}
	scored := ScoreBM25([]string{"alpha"}, candidates)
	if len(scored) != 2 {
		t.Fatalf("got %d hits, want 2", len(scored))
	}
	if scored[0].ID != "a" {
		t.Errorf("equal scores should order by ID, got %s first", scored[0].ID)
	}
}

func TestScoreBM25Empty(t *testing.T) {
	if got := ScoreBM25(nil, []Hit{hit("a", "text")}); got != nil {
		t.Errorf("nil terms should return nil, got %v", got)
	}
	if got := ScoreBM25([]string{"x"}, nil); got != nil {
		t.Errorf("nil candidates should return nil, got %v", got)
	}
}
