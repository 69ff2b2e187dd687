package llms

import "testing"

func TestExtractJSON(t *testing.T) {
	type decision struct {
		Decision   string  `json:"decision"`
		Confidence float64 `json:"confidence"`
	}

	tests := []struct {
		name     string
		response string
		wantDec  string
		wantErr  bool
	}{
		{
			name:     "bare object",
			response: `{"decision": "finalize", "confidence": 0.9}`,
			wantDec:  "finalize",
		},
		{
			name:     "fenced with language tag",
			response: "```json\n{\"decision\": \"refine\", \"confidence\": 0.4}\n```",
			wantDec:  "refine",
		},
		{
			name:     "surrounded by prose",
			response: "Sure, here is my assessment:\n{\"decision\": \"expand\", \"confidence\": 0.3}\nHope that helps!",
			wantDec:  "expand",
		},
		{
			name:     "braces inside string values",
			response: `prefix {"decision": "finalize", "confidence": 1, "note": "uses {curly} braces"} suffix`,
			wantDec:  "finalize",
		},
		{
			name:     "no json at all",
			response: "I cannot answer that.",
			wantErr:  true,
		},
		{
			name:     "unbalanced",
			response: `{"decision": "refine", "confidence":`,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d decision
			err := ExtractJSON(tt.response, &d)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", d)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON error: %v", err)
			}
			if d.Decision != tt.wantDec {
				t.Errorf("decision = %q, want %q", d.Decision, tt.wantDec)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	var ranks []int
	if err := ExtractJSON("The best order is: [2, 0, 1]", &ranks); err != nil {
		t.Fatalf("ExtractJSON error: %v", err)
	}
	if len(ranks) != 3 || ranks[0] != 2 {
		t.Errorf("ranks = %v, want [2 0 1]", ranks)
	}
}
