package structure

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadXYZ parses the first frame of an (extended) XYZ stream. The comment
// line may carry Lattice="ax ay az bx by bz cx cy cz" and pbc="T T F"
// fields, which populate Cell and PBC.
func ReadXYZ(r io.Reader) (*Structure, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		return nil, fmt.Errorf("xyz: missing atom count line")
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("xyz: bad atom count %q", strings.TrimSpace(sc.Text()))
	}
	if !sc.Scan() {
		return nil, fmt.Errorf("xyz: missing comment line")
	}
	comment := sc.Text()

	symbols := make([]string, 0, n)
	positions := make([]float64, 0, 3*n)
	for i := 0; i < n; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("xyz: expected %d atoms, got %d", n, i)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			return nil, fmt.Errorf("xyz: atom line %d has %d fields, want at least 4", i+1, len(fields))
		}
		sym := fields[0]
		if z, err := strconv.Atoi(sym); err == nil {
			sym = SymbolForNumber(z)
		}
		symbols = append(symbols, sym)
		for k := 1; k <= 3; k++ {
			v, err := strconv.ParseFloat(fields[k], 64)
			if err != nil {
				return nil, fmt.Errorf("xyz: atom line %d: %w", i+1, err)
			}
			positions = append(positions, v)
		}
	}

	s, err := New(symbols, positions)
	if err != nil {
		return nil, err
	}

	if lattice, ok := commentField(comment, "Lattice"); ok {
		cell, err := parseLattice(lattice)
		if err != nil {
			return nil, err
		}
		s.Cell = cell
		s.PBC = [3]bool{true, true, true}
	}
	if pbc, ok := commentField(comment, "pbc"); ok {
		flags := strings.Fields(pbc)
		for i := 0; i < 3 && i < len(flags); i++ {
			s.PBC[i] = flags[i] == "T" || flags[i] == "true"
		}
	}
	return s, nil
}

// WriteXYZ appends one extended-XYZ frame. The comment line carries the
// energy plus Lattice/pbc fields when a cell is present.
func WriteXYZ(w io.Writer, s *Structure, energy float64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n", s.NumAtoms())

	fmt.Fprintf(&b, "energy=%.8f", energy)
	if s.Cell != nil {
		b.WriteString(" Lattice=\"")
		for i, v := range s.Cell {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%.8f", v)
		}
		b.WriteString("\"")
		fmt.Fprintf(&b, " pbc=\"%s %s %s\"", tf(s.PBC[0]), tf(s.PBC[1]), tf(s.PBC[2]))
	}
	b.WriteByte('\n')

	for i, sym := range s.Symbols {
		p := s.Positions[3*i : 3*i+3]
		fmt.Fprintf(&b, "%-3s %16.8f %16.8f %16.8f\n", sym, p[0], p[1], p[2])
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func tf(v bool) string {
	if v {
		return "T"
	}
	return "F"
}

// commentField extracts key=value or key="quoted value" from an
// extended-XYZ comment line. Keys are matched case-insensitively.
func commentField(comment, key string) (string, bool) {
	lower := strings.ToLower(comment)
	key = strings.ToLower(key) + "="
	idx := 0
	for {
		i := strings.Index(lower[idx:], key)
		if i < 0 {
			return "", false
		}
		i += idx
		if i > 0 && lower[i-1] != ' ' && lower[i-1] != '\t' {
			idx = i + len(key)
			continue
		}
		rest := comment[i+len(key):]
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				return "", false
			}
			return rest[1 : 1+end], true
		}
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			return rest, true
		}
		return rest[:end], true
	}
}

func parseLattice(lattice string) ([]float64, error) {
	fields := strings.Fields(lattice)
	if len(fields) != 9 {
		return nil, fmt.Errorf("xyz: lattice has %d components, want 9", len(fields))
	}
	cell := make([]float64, 9)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("xyz: bad lattice component %q", f)
		}
		cell[i] = v
	}
	return cell, nil
}
