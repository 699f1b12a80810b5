package config

import "sort"

func preset(scene string, mutate func(c *Config)) *Config {
	c := DefaultConfig()
	c.Scene = scene
	mutate(c)
	return c
}

var Presets = map[string]map[string]*Config{
	"head_on": {
		"rigid": preset("head_on", func(c *Config) {
			c.Gravity = 0
			c.Duration = 2.0
			c.Speed = 1.0
		}),
		"compliant": preset("head_on", func(c *Config) {
			c.Gravity = 0
			c.Duration = 2.0
			c.Contact.Compliance = 1e-4
			c.Contact.Damping = 10
		}),
		"bilateral": preset("head_on", func(c *Config) {
			c.Gravity = 0
			c.Contact.Bilateral = true
			c.Contact.BreakSpeed = 0.5
		}),
	},
	"rain": {
		"light": preset("rain", func(c *Config) {
			c.Bodies = 6
			c.Contact.Friction = 0.3
		}),
		"heavy": preset("rain", func(c *Config) {
			c.Bodies = 24
			c.Duration = 8.0
			c.Contact.Friction = 0.5
			c.Contact.Friction2D = true
			c.Engine.Parallel = true
		}),
	},
	"tethered": {
		"sheet": preset("tethered", func(c *Config) {
			c.Contact.Friction = 0.4
		}),
		"no_coriolis": preset("tethered", func(c *Config) {
			c.Engine.IgnoreCoriolis = true
		}),
	},
	"stack": {
		"tower": preset("stack", func(c *Config) {
			c.Bodies = 4
			c.Contact.Friction = 0.6
			c.Contact.Friction2D = true
		}),
		"soft": preset("stack", func(c *Config) {
			c.Bodies = 4
			c.Contact.Friction = 0.6
			c.Contact.AutoCompliance = true
		}),
	},
}

func GetPreset(scene, name string) *Config {
	scenePresets, ok := Presets[scene]
	if !ok {
		return nil
	}
	cfg, ok := scenePresets[name]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(scene string) []string {
	scenePresets, ok := Presets[scene]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(scenePresets))
	for name := range scenePresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
