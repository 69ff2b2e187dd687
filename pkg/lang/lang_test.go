package lang

import (
	"math"
	"reflect"
	"testing"
)

func TestAnalyzeEnglish(t *testing.T) {
	a := NewScriptTagger().Analyze("The quick brown fox jumps over the lazy dog")
	if a.PrimaryLanguage != "en" {
		t.Errorf("primary = %q, want en", a.PrimaryLanguage)
	}
	if a.IsMultilingual {
		t.Error("pure english should not be multilingual")
	}
	if a.Distribution["en"] != 1.0 {
		t.Errorf("en ratio = %v, want 1.0", a.Distribution["en"])
	}
}

func TestAnalyzeMixedHebrewEnglish(t *testing.T) {
	a := NewScriptTagger().Analyze("שלום my name is דוד and I live in ירושלים")
	if a.PrimaryLanguage != "en" {
		t.Errorf("primary = %q, want en", a.PrimaryLanguage)
	}
	if !a.IsMultilingual {
		t.Error("mixed text should be multilingual")
	}
	if !reflect.DeepEqual(a.Languages, []string{"en", "he"}) {
		t.Errorf("languages = %v, want [en he]", a.Languages)
	}

	sum := 0.0
	for _, ratio := range a.Distribution {
		sum += ratio
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("distribution sums to %v, want 1.0", sum)
	}
}

func TestAnalyzeHebrew(t *testing.T) {
	a := NewScriptTagger().Analyze("שלום עולם זהו מסמך בדיקה")
	if a.PrimaryLanguage != "he" {
		t.Errorf("primary = %q, want he", a.PrimaryLanguage)
	}
}

func TestAnalyzeArabic(t *testing.T) {
	a := NewScriptTagger().Analyze("مرحبا بالعالم هذا اختبار")
	if a.PrimaryLanguage != "ar" {
		t.Errorf("primary = %q, want ar", a.PrimaryLanguage)
	}
}

func TestAnalyzeCyrillic(t *testing.T) {
	a := NewScriptTagger().Analyze("привет мир это тестовый документ")
	if a.PrimaryLanguage != "ru" {
		t.Errorf("primary = %q, want ru", a.PrimaryLanguage)
	}
}

func TestAnalyzeCJK(t *testing.T) {
	a := NewScriptTagger().Analyze("这是 一份 测试 文档")
	if a.PrimaryLanguage != "zh" {
		t.Errorf("primary = %q, want zh", a.PrimaryLanguage)
	}

	a = NewScriptTagger().Analyze("これは テスト ドキュメント です")
	if a.PrimaryLanguage != "ja" {
		t.Errorf("primary = %q, want ja", a.PrimaryLanguage)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	a := NewScriptTagger().Analyze("   12 34 ... ")
	if a.PrimaryLanguage != "en" {
		t.Errorf("primary for empty/numeric text = %q, want en fallback", a.PrimaryLanguage)
	}
	if a.IsMultilingual {
		t.Error("fallback should not be multilingual")
	}
}

func TestAnalyzeMinorLanguageBelowThreshold(t *testing.T) {
	// One hebrew word among twenty english ones stays below the 10%
	// reporting threshold.
	text := "שלום one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty"
	a := NewScriptTagger().Analyze(text)
	if a.IsMultilingual {
		t.Errorf("languages = %v, trace language should be dropped", a.Languages)
	}
}
