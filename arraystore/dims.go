package arraystore

import (
	"database/sql"
	"errors"
	"fmt"
)

// Attributes set on an array once it is bound as a dimension scale, named
// as in the HDF5 dimension scale convention.
const (
	ScaleClassKey   = "CLASS"
	ScaleClassValue = "DIMENSION_SCALE"
	ScaleNameKey    = "NAME"
)

func checkAxis(info ArrayInfo, axis int) error {
	if axis < 0 || axis >= info.Rank() {
		return fmt.Errorf("%w: axis %d of array %q with rank %d", ErrOutOfBounds, axis, info.Name, info.Rank())
	}
	return nil
}

// LabelAxis attaches a text label to one axis of an array.
func (s *Store) LabelAxis(name string, axis int, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	info, err := loadInfo(s.db, name)
	if err != nil {
		return err
	}
	if err := checkAxis(info, axis); err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO dims(array, axis, label) VALUES(?,?,?)
		ON CONFLICT(array, axis) DO UPDATE SET label = excluded.label`, name, axis, label)
	return err
}

// BindScale makes the coordinate array the dimension scale of one axis of
// an array. The coordinate is marked with the CLASS and NAME attributes.
func (s *Store) BindScale(name string, axis int, coordinate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	if name == coordinate {
		return fmt.Errorf("%w: array %q cannot be its own scale", ErrInvalidSpec, name)
	}
	return s.inTx(func(tx *sql.Tx) error {
		info, err := loadInfo(tx, name)
		if err != nil {
			return err
		}
		if err := checkAxis(info, axis); err != nil {
			return err
		}
		if _, err := loadInfo(tx, coordinate); err != nil {
			return err
		}
		if err := s.setAttribute(tx, "/"+coordinate, ScaleClassKey, ScaleClassValue); err != nil {
			return err
		}
		if err := s.setAttribute(tx, "/"+coordinate, ScaleNameKey, coordinate); err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO dims(array, axis, scale) VALUES(?,?,?)
			ON CONFLICT(array, axis) DO UPDATE SET scale = excluded.scale`, name, axis, coordinate)
		return err
	})
}

// AxisLabel returns the label of an axis, or "" if it has none.
func (s *Store) AxisLabel(name string, axis int) (string, error) {
	label, _, err := s.axis(name, axis)
	return label, err
}

// AxisScale returns the name of the array bound as the scale of an axis, or
// "" if none is bound.
func (s *Store) AxisScale(name string, axis int) (string, error) {
	_, scale, err := s.axis(name, axis)
	return scale, err
}

func (s *Store) axis(name string, axis int) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return "", "", err
	}
	info, err := loadInfo(s.db, name)
	if err != nil {
		return "", "", err
	}
	if err := checkAxis(info, axis); err != nil {
		return "", "", err
	}
	var label string
	var scale sql.NullString
	err = s.db.QueryRow(`SELECT label, scale FROM dims WHERE array = ? AND axis = ?`, name, axis).Scan(&label, &scale)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return label, scale.String, nil
}
