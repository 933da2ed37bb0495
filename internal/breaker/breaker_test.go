package breaker

import "testing"

func TestHealthyBelowThreshold(t *testing.T) {
	if !Healthy(4, DefaultThreshold) {
		t.Fatal("expected 4 consecutive errors to be healthy under threshold 5")
	}
}

func TestUnhealthyAtThreshold(t *testing.T) {
	if Healthy(5, DefaultThreshold) {
		t.Fatal("expected 5 consecutive errors to be unhealthy under threshold 5")
	}
}

func TestUnhealthyAboveThreshold(t *testing.T) {
	if Healthy(9, DefaultThreshold) {
		t.Fatal("expected 9 consecutive errors to be unhealthy under threshold 5")
	}
}

func TestZeroErrorsIsHealthy(t *testing.T) {
	if !Healthy(0, DefaultThreshold) {
		t.Fatal("expected a fresh provider with 0 errors to be healthy")
	}
}
