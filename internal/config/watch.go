package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes and hands the new
// configuration to onChange. Invalid edits are reported through onError and
// the previous configuration stays in effect. No-op when the configuration
// was not loaded from a file.
func (c *Config) Watch(onChange func(*Config), onError func(error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(next)
	})
	c.v.WatchConfig()
}
