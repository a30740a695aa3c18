package value

import "fmt"

// ValidateKey checks that v can address an object: a string, a number, or
// a non-empty array of valid keys. Null, booleans and objects are not keys.
func ValidateKey(v Value) error {
	switch val := v.(type) {
	case String, Int, Float:
		return nil
	case Array:
		if len(val) == 0 {
			return fmt.Errorf("empty array key")
		}
		for i, elem := range val {
			if err := ValidateKey(elem); err != nil {
				return fmt.Errorf("key[%d]: %w", i, err)
			}
		}
		return nil
	case nil:
		return fmt.Errorf("missing key")
	default:
		return fmt.Errorf("%s is not a valid key", v.Kind())
	}
}
