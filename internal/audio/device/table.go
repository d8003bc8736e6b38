package device

import "fmt"

// Table maps normalized names to devices. When two devices share a normalized
// name the first one in enumeration order wins.
type Table struct {
	byKey map[string]Device
	order []Device
}

func NewTable(devs []Device) Table {
	t := Table{byKey: make(map[string]Device, len(devs))}
	for _, d := range devs {
		if _, ok := t.byKey[d.Key()]; ok {
			continue
		}
		t.byKey[d.Key()] = d
		t.order = append(t.order, d)
	}
	return t
}

func (t Table) Lookup(name string) (Device, error) {
	d, ok := t.byKey[Normalize(name)]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d, nil
}

// Devices returns the distinct devices in enumeration order.
func (t Table) Devices() []Device {
	return append([]Device(nil), t.order...)
}

func (t Table) Len() int { return len(t.order) }
