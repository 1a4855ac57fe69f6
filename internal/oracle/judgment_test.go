package oracle_test

import (
	"testing"

	"papersift/internal/oracle"
)

func TestDecodeJudgment(t *testing.T) {
	content := "```json\n{\"type\":\"research\",\"reasoning\":\"mentions senescence\",\"result\":\"valid\",\"confidence_score\":8,\"aging_theory\":\"telomere attrition\"}\n```"
	got, err := oracle.DecodeJudgment(content)
	if err != nil {
		t.Fatalf("DecodeJudgment returned error: %v", err)
	}
	if got.Label != oracle.LabelValid || got.Confidence != 8 {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.Theory != "telomere attrition" || got.PaperType != "research" {
		t.Fatalf("unexpected optional fields %+v", got)
	}
}

func TestDecodeJudgmentToleratesProseAndQuotedNumbers(t *testing.T) {
	content := `Here is my answer: {"result":"doubted","confidence_score":"6.5","reasoning":"thin abstract","theory":null}`
	got, err := oracle.DecodeJudgment(content)
	if err != nil {
		t.Fatalf("DecodeJudgment returned error: %v", err)
	}
	if got.Label != oracle.LabelDoubted || got.Confidence != 6.5 || got.Theory != "" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestDecodeJudgmentMalformed(t *testing.T) {
	cases := []string{
		"",
		"not json at all",
		`{"result":"perhaps","confidence_score":5}`,
		`{"result":"valid"}`,
		`{"result":"valid","confidence_score":42}`,
	}
	for _, content := range cases {
		_, err := oracle.DecodeJudgment(content)
		if oracle.KindOf(err) != oracle.KindMalformed {
			t.Fatalf("DecodeJudgment(%q): expected malformed error, got %v", content, err)
		}
	}
}

func TestSnippetTruncates(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	got := oracle.Snippet(string(long))
	if len(got) != 163 {
		t.Fatalf("expected 160 runes plus ellipsis, got %d", len(got))
	}
	if oracle.Snippet(" \n ") != "<empty>" {
		t.Fatal("expected placeholder for blank content")
	}
}
