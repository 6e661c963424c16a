package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"github.com/usnistgov/datasaver/arraystore"
	"github.com/usnistgov/datasaver/getbytes"
	"github.com/usnistgov/datasaver/npyappend"
)

// exportAs writes data, shaped as shape, row by row as a T-typed npy file.
func exportAs[T getbytes.Number](filename, descr string, shape []int, data []float64) error {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	a, err := npyappend.New[T](filename, descr, shape[1:])
	if err != nil {
		return err
	}
	rowLen := 1
	for _, n := range shape[1:] {
		rowLen *= n
	}
	row := make([]T, rowLen)
	for start := 0; start+rowLen <= len(data) && rowLen > 0; start += rowLen {
		for i, x := range data[start : start+rowLen] {
			row[i] = T(x)
		}
		if err := a.Append(row); err != nil {
			a.Close()
			return err
		}
	}
	return a.Close()
}

// export saves one array as dir/name.npy in its stored dtype.
func export(s *arraystore.Store, name, dir string) error {
	info, err := s.Info(name)
	if err != nil {
		return err
	}
	data, shape, err := s.Read(name)
	if err != nil {
		return err
	}
	filename := filepath.Join(dir, name+".npy")
	switch info.DType {
	case arraystore.Float32:
		err = exportAs[float32](filename, "", shape, data)
	case arraystore.Int64:
		err = exportAs[int64](filename, "", shape, data)
	case arraystore.Int32:
		err = exportAs[int32](filename, "", shape, data)
	case arraystore.Int16:
		err = exportAs[int16](filename, "", shape, data)
	case arraystore.Int8:
		err = exportAs[int8](filename, "", shape, data)
	case arraystore.Uint64:
		err = exportAs[uint64](filename, "", shape, data)
	case arraystore.Uint32:
		err = exportAs[uint32](filename, "", shape, data)
	case arraystore.Uint16:
		err = exportAs[uint16](filename, "", shape, data)
	case arraystore.Uint8:
		err = exportAs[uint8](filename, "", shape, data)
	case arraystore.Bool:
		err = exportAs[uint8](filename, string(arraystore.Bool), shape, data)
	default:
		err = exportAs[float64](filename, "", shape, data)
	}
	if err != nil {
		return err
	}
	fmt.Printf("    exported to %s\n", filename)
	return nil
}

func dumpAttributes(s *arraystore.Store, object, indent string, deep bool) error {
	attrs, err := s.Attributes(object)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		shape, err := s.AttributeShape(object, k)
		if err != nil {
			return err
		}
		if shape != nil {
			fmt.Printf("%s@%s shape %v\n", indent, k, shape)
		}
		if deep {
			fmt.Printf("%s@%s = %s", indent, k, spew.Sdump(attrs[k]))
		} else {
			fmt.Printf("%s@%s = %v\n", indent, k, attrs[k])
		}
	}
	return nil
}

func dumpArray(s *arraystore.Store, name string, maxValues int, deep bool) error {
	info, err := s.Info(name)
	if err != nil {
		return err
	}
	fmt.Printf("dataset %s: %s shape %v chunks %v", name, info.DType, info.Shape, info.Chunks)
	if info.Resizable() {
		fmt.Printf(" maxshape %v", info.MaxShape)
	}
	fmt.Println()
	for axis := range info.Shape {
		label, err := s.AxisLabel(name, axis)
		if err != nil {
			return err
		}
		scale, err := s.AxisScale(name, axis)
		if err != nil {
			return err
		}
		if label != "" || scale != "" {
			fmt.Printf("    axis %d: label %q scale %q\n", axis, label, scale)
		}
	}
	if err := dumpAttributes(s, name, "    ", deep); err != nil {
		return err
	}
	if maxValues <= 0 {
		return nil
	}
	data, _, err := s.Read(name)
	if err != nil {
		return err
	}
	if len(data) > maxValues {
		fmt.Printf("    data: %v ... (%d values)\n", data[:maxValues], len(data))
	} else {
		fmt.Printf("    data: %v\n", data)
	}
	return nil
}

func dump(filename string, maxValues int, deep bool, exportDir string) error {
	s, err := arraystore.Open(filename, arraystore.ReadOnly)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Println("Dumping data file", filename)
	groups, err := s.Groups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Printf("group %s\n", g)
		if err := dumpAttributes(s, g, "    ", deep); err != nil {
			return err
		}
	}
	names, err := s.Arrays()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := dumpArray(s, name, maxValues, deep); err != nil {
			return err
		}
		if exportDir != "" {
			if err := export(s, name, exportDir); err != nil {
				return err
			}
		}
	}
	return nil
}

func main() {
	maxValues := flag.Int("n", 10, "number of data values to print per dataset (0 for none)")
	deep := flag.Bool("deep", false, "dump attribute values with their Go types")
	exportDir := flag.String("export", "", "also save each dataset as <dir>/<name>.npy")
	flag.Usage = func() {
		fmt.Println("storedump, a program to print the layout, attributes and data of a data file")
		fmt.Println("Usage: storedump [flags] file...")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *exportDir != "" {
		if err := os.MkdirAll(*exportDir, 0775); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	for _, filename := range flag.Args() {
		if err := dump(filename, *maxValues, *deep, *exportDir); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filename, err)
			os.Exit(1)
		}
	}
}
