package native

import "fmt"

func errUnknownFunction(contract, fn string) error {
	return fmt.Errorf("%s: no such function %q", contract, fn)
}

func errWrongArgCount(fn string, want, got int) error {
	return fmt.Errorf("%s: expects %d argument(s), got %d", fn, want, got)
}
