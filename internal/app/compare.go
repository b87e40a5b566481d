package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"horse.fit/pageid/internal/cli"
	"horse.fit/pageid/internal/fingerprint"
	pageschema "horse.fit/pageid/schema"
)

type compareOutput struct {
	Comparison fingerprint.Comparison `json:"comparison"`
	Score      float64                `json:"score"`
}

func runCompare(args []string) int {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	subjectPath := fs.String("subject", "", "Subject payload JSON file")
	candidatePath := fs.String("candidate", "", "Candidate payload JSON file")
	maxDistance := fs.Int("max-content-distance", -1, "Override MATCH_MAX_CONTENT_DISTANCE (0 = identical content only)")
	minLayout := fs.Float64("min-layout-similarity", 0, "Override MATCH_MIN_LAYOUT_SIMILARITY")
	requireCanonical := fs.Bool("require-canonical", false, "Only match when canonical URLs agree")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, _, err := loadOffline(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	opts := cfg.CompareOptions()
	if *maxDistance > fingerprint.SignatureBits {
		fmt.Fprintf(os.Stderr, "--max-content-distance must be between 0 and %d\n", fingerprint.SignatureBits)
		return 2
	}
	if *maxDistance >= 0 {
		opts.MaxContentDistance = fingerprint.ContentDistanceOption(*maxDistance)
	}
	if *minLayout > 0 {
		opts.MinLayoutSimilarity = *minLayout
	}
	if *requireCanonical {
		opts.RequireCanonicalAgreement = true
	}

	out, err := comparePayloadFiles(*subjectPath, *candidatePath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compare failed: %v\n", err)
		return 1
	}
	if err := printJSON(out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	if !out.Comparison.IsMatch {
		return 3
	}
	return 0
}

func comparePayloadFiles(subjectPath, candidatePath string, opts fingerprint.CompareOptions) (compareOutput, error) {
	subject, err := loadPayloadFile(subjectPath)
	if err != nil {
		return compareOutput{}, fmt.Errorf("subject: %w", err)
	}
	candidate, err := loadPayloadFile(candidatePath)
	if err != nil {
		return compareOutput{}, fmt.Errorf("candidate: %w", err)
	}

	ranked := fingerprint.Rank(subject, []fingerprint.Candidate{{ID: candidatePath, Identity: candidate}}, opts)
	return compareOutput{Comparison: ranked[0].Comparison, Score: ranked[0].Score}, nil
}

func loadPayloadFile(path string) (fingerprint.PageIdentity, error) {
	raw, err := readInput(path)
	if err != nil {
		return fingerprint.PageIdentity{}, err
	}
	return pageschema.ValidatePageIdentityPayload(raw)
}
