package config

// Backend stores non-secret keys. Values are kept as strings and parsed
// by keySpec.parse when loaded.
//
// macOS keeps them in the user defaults domain; other platforms use a
// JSON file under $XDG_CONFIG_HOME.
type Backend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}
