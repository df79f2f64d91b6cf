package sentiment

import "fmt"

func errPredictionCount(got, want int) error {
	return fmt.Errorf("model returned %d predictions for %d texts", got, want)
}
