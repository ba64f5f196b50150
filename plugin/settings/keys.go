package settings

// Key is a well known setting with its default value.
type Key struct {
	Name    string
	Default string
}

// Well known settings.
var (
	ExtensionName  = Key{Name: "jython.extension.name", Default: "Extender"}
	LogFilename    = Key{Name: "jython.log.filename", Default: "extender.log"}
	LogFormat      = Key{Name: "jython.log.format", Default: "text"}
	LogLevel       = Key{Name: "jython.log.level", Default: "info"}
	ConfigFilename = Key{Name: "jython.config.filename", Default: "extender.ini"}
)

// Keys lists the well known settings.
var Keys = []Key{
	ExtensionName,
	LogFilename,
	LogFormat,
	LogLevel,
	ConfigFilename,
}

// LoadKey loads a well known setting.
func (ns *Namespace) LoadKey(key Key) (string, error) {
	return ns.Load(key.Name, key.Default)
}

// LookupKey returns the well known setting with the given name.
func LookupKey(name string) (Key, bool) {
	for _, key := range Keys {
		if key.Name == name {
			return key, true
		}
	}
	return Key{}, false
}
