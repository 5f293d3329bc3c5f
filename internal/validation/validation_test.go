package validation

import (
	"context"
	"testing"

	"github.com/agenthands/tgi-router/internal/router"
)

func testLimits() Limits {
	return Limits{
		MaxBestOf:           4,
		MaxStopSequences:    4,
		MaxTopNTokens:       5,
		MaxInputLength:      1000,
		MaxTotalTokens:      2000,
		MaxTokenizerWorkers: 2,
	}
}

func counter() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

func TestValidateRejectsEmptyInput(t *testing.T) {
	p := New(testLimits(), nil, counter())
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "", Parameters: router.DefaultGenerateParameters()})
	if err == nil {
		t.Fatal("expected validation error for empty input")
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	p := New(testLimits(), nil, counter())
	valid, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hello", Parameters: router.DefaultGenerateParameters()})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if valid.BestOf != 1 {
		t.Errorf("BestOf = %d, want 1", valid.BestOf)
	}
	if valid.ID == 0 {
		t.Error("expected a non-zero assigned id")
	}
}

func TestValidateRejectsBestOfOverMax(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.BestOf = 10
	params.DoSample = true
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for best_of exceeding max")
	}
}

func TestValidateRejectsBestOfWithoutSampling(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.BestOf = 2
	params.DoSample = false
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for best_of > 1 without do_sample")
	}
}

func TestValidateRejectsBadTemperature(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.Temperature = 0
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for non-positive temperature")
	}
}

func TestValidateRejectsOutOfRangeFrequencyPenalty(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.FrequencyPenalty = 2.5
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for out-of-range frequency_penalty")
	}
}

func TestValidateStreamingRejectsBestOf(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.BestOf = 2
	params.DoSample = true
	_, err := p.ValidateStreaming(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for best_of > 1 while streaming")
	}
}

func TestValidateStreamingRejectsDecoderInputDetails(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.DecoderInputDetails = true
	_, err := p.ValidateStreaming(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for decoder_input_details while streaming")
	}
}

func TestValidateRejectsInvalidRegexGrammar(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.Grammar = router.Grammar{Kind: router.GrammarRegex, Value: "("}
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for an unbalanced regex grammar")
	}
}

func TestValidateAcceptsValidRegexGrammar(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.Grammar = router.Grammar{Kind: router.GrammarRegex, Value: "[a-z]+"}
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsInvalidJSONSchemaGrammar(t *testing.T) {
	p := New(testLimits(), nil, counter())
	params := router.DefaultGenerateParameters()
	params.Grammar = router.Grammar{Kind: router.GrammarJSONSchema, Value: "not json"}
	_, err := p.Validate(context.Background(), router.GenerateRequest{Inputs: "hi", Parameters: params})
	if err == nil {
		t.Fatal("expected error for malformed JSON schema grammar")
	}
}

func TestTokenizeWithoutTokenizerConfiguredErrors(t *testing.T) {
	p := New(testLimits(), nil, counter())
	if _, err := p.Tokenize("hello"); err == nil {
		t.Fatal("expected an error when no tokenizer is configured")
	}
}
