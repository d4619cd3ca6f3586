package tutil

import (
	"os"
	"strings"
)

func IsIntegrationTest() bool {
	testType := os.Getenv("DRIVED_TEST")
	return strings.ToLower(testType) == "integration"
}
