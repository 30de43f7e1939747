package config

import (
	"strconv"
	"strings"
)

// Source provides values for registered options, e.g. the process
// environment or a redis hash.
type Source interface {
	GetValue(key string) interface{}
	Name() string
}

type Option struct {
	Name         string
	Description  string
	DefaultValue interface{}
	LoadedValue  interface{}

	// the source the loaded value came from, nil if the default was used
	Source Source

	manager *Manager
}

func (opt *Option) LoadValue() {
	newVal := opt.DefaultValue
	opt.Source = nil

	// later sources shadow earlier ones
	for i := len(opt.manager.sources) - 1; i >= 0; i-- {
		source := opt.manager.sources[i]

		if v := source.GetValue(opt.Name); v != nil {
			newVal = v
			opt.Source = source
			break
		}
	}

	// coerce to the type of the default ahead of time
	if opt.DefaultValue != nil {
		if _, ok := opt.DefaultValue.(int); ok {
			newVal = interface{}(intVal(newVal))
		} else if _, ok := opt.DefaultValue.(bool); ok {
			newVal = interface{}(boolVal(newVal))
		}
	}

	opt.LoadedValue = newVal
}

func (opt *Option) GetString() string {
	return strVal(opt.LoadedValue)
}

func (opt *Option) GetInt() int {
	return intVal(opt.LoadedValue)
}

func (opt *Option) GetBool() bool {
	return boolVal(opt.LoadedValue)
}

type Manager struct {
	sources []Source
	Options map[string]*Option
}

func NewManager() *Manager {
	return &Manager{
		Options: make(map[string]*Option),
	}
}

func (m *Manager) AddSource(source Source) {
	m.sources = append(m.sources, source)
}

func (m *Manager) RegisterOption(name, desc string, defaultValue interface{}) *Option {
	opt := &Option{
		Name:         name,
		Description:  desc,
		DefaultValue: defaultValue,
		manager:      m,
	}

	m.Options[name] = opt
	return opt
}

// Load (re-)resolves all registered options against the current sources
func (m *Manager) Load() {
	for _, v := range m.Options {
		v.LoadValue()
	}
}

func strVal(i interface{}) string {
	switch t := i.(type) {
	case string:
		return t
	case int:
		return strconv.FormatInt(int64(t), 10)
	case interface{ String() string }:
		return t.String()
	}

	return ""
}

func intVal(i interface{}) int {
	switch t := i.(type) {
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return int(n)
	case int:
		return t
	}

	return 0
}

func boolVal(i interface{}) bool {
	switch t := i.(type) {
	case string:
		lower := strings.ToLower(strings.TrimSpace(t))
		return lower == "true" || lower == "yes" || lower == "on" || lower == "enabled" || lower == "1"
	case int:
		return t > 0
	case bool:
		return t
	}

	return false
}
