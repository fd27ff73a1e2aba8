package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedvwap/validation"
)

// revealRecord is the body of GET /v1/auctions/{id}/reveal.
type revealRecord struct {
	AuctionID        uint64 `json:"auction_id"`
	RequestID        string `json:"request_id"`
	CiphertextDigest string `json:"ciphertext_digest"`
	ClearingPrice    uint64 `json:"clearing_price"`
	Proof            []byte `json:"proof"`
}

func main() {
	var (
		revealInput   = flag.String("reveal", "", "Reveal record JSON (file path or inline JSON)")
		publicKeyPath = flag.String("oracle-key", "", "Path to oracle public key PEM file")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *revealInput == "" || *publicKeyPath == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --reveal and --oracle-key are required\n")
		os.Exit(1)
	}

	data, err := readJSONInput(*revealInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading reveal record: %v\n", err)
		os.Exit(2)
	}

	var record revealRecord
	if err := json.Unmarshal(data, &record); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing reveal record: %v\n", err)
		os.Exit(2)
	}

	publicKey, err := os.ReadFile(*publicKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading oracle key: %v\n", err)
		os.Exit(2)
	}

	verifier, err := validation.NewDecryptionVerifierFromPEM(string(publicKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading oracle key: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateClearingPrice(verifier, &validation.ClearingValidationInput{
		Proof:            record.Proof,
		RequestID:        record.RequestID,
		CiphertextDigest: record.CiphertextDigest,
		ClearingPrice:    record.ClearingPrice,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(record.AuctionID, result)
	} else {
		outputText(record.AuctionID, result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Clearing Price Validator")
	fmt.Println()
	fmt.Println("Checks that an auction's published clearing price is the oracle-signed")
	fmt.Println("decryption of the auction's encrypted VWAP.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  clearing-validator --reveal <json> --oracle-key <pem> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --reveal <json>                   Reveal record (GET /v1/auctions/{id}/reveal)")
	fmt.Println("  --oracle-key <path>               Oracle result-signing public key (PEM)")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) ([]byte, error) {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	// Treat as inline JSON
	return []byte(input), nil
}

func outputText(auctionID uint64, result *validation.ClearingValidationResult) {
	fmt.Println("Clearing Price Validator")
	fmt.Println("========================")
	fmt.Println()
	fmt.Printf("Auction: %d\n", auctionID)
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Request ID Valid:        %v\n", result.RequestIDValid)
	fmt.Printf("  Ciphertext Digest Valid: %v\n", result.DigestValid)
	fmt.Printf("  Clearing Price Valid:    %v\n", result.ClearingPriceValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("========================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(auctionID uint64, result *validation.ClearingValidationResult) {
	output := map[string]any{
		"auction_id":           auctionID,
		"valid":                result.IsValid(),
		"signature_valid":      result.SignatureValid,
		"request_id_valid":     result.RequestIDValid,
		"digest_valid":         result.DigestValid,
		"clearing_price_valid": result.ClearingPriceValid,
		"details":              result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
