package sqldbi

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// readBatch is the number of reads inserted per locked write.
const readBatch = 512

type assemblyDbi struct{ d *Dbi }

func (a *assemblyDbi) CreateAssemblyObject(ctx context.Context, assembly *domain.Assembly, folder string, reads dbi.Iterator[domain.AssemblyRead]) error {
	return a.d.RunInOperationsBlock(ctx, func(ctx context.Context) error {
		err := a.d.write(ctx, "create_assembly", func(c conn) error {
			if err := createObject(ctx, c, domain.TypeAssembly, &assembly.Object, folder); err != nil {
				return err
			}
			assembly.DbiID = a.d.url
			_, err := c.exec(ctx, "INSERT INTO Assembly(object, reference, imethod, cmethod) VALUES(?, ?, ?, ?)",
				assembly.ID.RowID(), assembly.ReferenceID.RowID(), a.d.assemblyMethod, a.d.assemblyCompression)
			if err != nil {
				return fmt.Errorf("create assembly: %w", err)
			}
			return nil
		})
		if err != nil || reads == nil {
			return err
		}
		_, err = a.AddReads(ctx, assembly.ID, reads)
		return err
	})
}

func (a *assemblyDbi) GetAssemblyObject(ctx context.Context, id domain.EntityID) (domain.Assembly, error) {
	var asm domain.Assembly
	err := a.d.read(ctx, "get_assembly", func(c conn) error {
		var err error
		asm, err = a.d.assemblyRow(ctx, c, id)
		return err
	})
	return asm, err
}

func (d *Dbi) assemblyRow(ctx context.Context, c conn, id domain.EntityID) (domain.Assembly, error) {
	if id.Type() != domain.TypeAssembly {
		return domain.Assembly{}, domain.Preconditionf("id %s is not an assembly", id)
	}
	obj, err := d.objectRow(ctx, c, id)
	if err != nil {
		return domain.Assembly{}, err
	}
	asm := domain.Assembly{Object: obj}
	var ref int64
	err = c.queryRow(ctx, "SELECT reference FROM Assembly WHERE object = ?", id.RowID()).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Assembly{}, domain.NotFound(id)
	}
	if err != nil {
		return domain.Assembly{}, fmt.Errorf("read assembly: %w", err)
	}
	if ref != 0 {
		asm.ReferenceID = domain.NewEntityID(ref, domain.TypeSequence)
	}
	return asm, nil
}

func (a *assemblyDbi) CountReads(ctx context.Context, assemblyID domain.EntityID, region domain.Region) (int64, error) {
	var total int64
	err := a.d.read(ctx, "count_reads", func(c conn) error {
		if _, err := a.d.assemblyRow(ctx, c, assemblyID); err != nil {
			return err
		}
		parts, args := a.d.regionSelect("COUNT(*)", assemblyID.RowID(), region)
		for i, part := range parts {
			var n int64
			if err := c.queryRow(ctx, part, args[i]...).Scan(&n); err != nil {
				return fmt.Errorf("count reads: %w", err)
			}
			total += n
		}
		return nil
	})
	return total, err
}

func (a *assemblyDbi) GetReads(ctx context.Context, assemblyID domain.EntityID, region domain.Region) (dbi.Iterator[domain.AssemblyRead], error) {
	if err := a.checkAssembly(ctx, assemblyID); err != nil {
		return nil, err
	}
	parts, args := a.d.regionSelect(readColumns, assemblyID.RowID(), region)
	return a.d.readIterator("get_reads", parts, args), nil
}

func (a *assemblyDbi) GetReadsByName(ctx context.Context, assemblyID domain.EntityID, name string) (dbi.Iterator[domain.AssemblyRead], error) {
	if err := a.checkAssembly(ctx, assemblyID); err != nil {
		return nil, err
	}
	var parts []string
	var args [][]any
	for _, t := range readTablesFor(a.d.assemblyMethod) {
		parts = append(parts, "SELECT "+strconv.FormatInt(t.index, 10)+" AS tbl, "+readColumns+" FROM "+t.name+" WHERE assembly = ? AND name = ?")
		args = append(args, []any{assemblyID.RowID(), name})
	}
	return a.d.readIterator("get_reads_by_name", parts, args), nil
}

func (a *assemblyDbi) checkAssembly(ctx context.Context, id domain.EntityID) error {
	return a.d.read(ctx, "get_assembly", func(c conn) error {
		_, err := a.d.assemblyRow(ctx, c, id)
		return err
	})
}

const readColumns = "id, name, prow, gstart, elen, flags, mq, data"

// regionSelect builds one SELECT per read table for reads intersecting
// region. Each statement has its own argument list.
func (d *Dbi) regionSelect(columns string, assembly int64, region domain.Region) ([]string, [][]any) {
	start, end := region.Start, region.End()
	if d.assemblyMethod == dbi.AssemblyMethodRTree {
		cols := columns
		if columns == readColumns {
			cols = "0 AS tbl, r.id AS id, r.name, r.prow, r.gstart AS gstart, r.elen, r.flags, r.mq, r.data"
		}
		q := "SELECT " + cols + " FROM AssemblyRead r JOIN " + rtreeTable + " i ON i.id = r.id WHERE r.assembly = ? AND i.gstart < ? AND i.gend > ?"
		return []string{q}, [][]any{{assembly, min(end, math.MaxInt32), max(start, math.MinInt32)}}
	}
	tables := readTablesFor(d.assemblyMethod)
	parts := make([]string, 0, len(tables))
	args := make([][]any, 0, len(tables))
	for _, t := range tables {
		cols := columns
		if columns == readColumns {
			cols = strconv.FormatInt(t.index, 10) + " AS tbl, " + columns
		}
		q := "SELECT " + cols + " FROM " + t.name + " WHERE assembly = ? AND gstart < ? AND gstart + elen > ?"
		a := []any{assembly, end, start}
		if t.maxLen != math.MaxInt64 && !region.IsMax() {
			// bounded length lets the (assembly, gstart) index cut the scan
			q += " AND gstart >= ?"
			a = append(a, start-t.maxLen)
		}
		parts = append(parts, q)
		args = append(args, a)
	}
	return parts, args
}

// readIterator pages through the union of parts ordered by position.
func (d *Dbi) readIterator(op string, parts []string, args [][]any) dbi.Iterator[domain.AssemblyRead] {
	query := strings.Join(parts, " UNION ALL ") + " ORDER BY gstart, id LIMIT ? OFFSET ?"
	var flat []any
	for _, a := range args {
		flat = append(flat, a...)
	}
	return dbi.NewPagedIterator(func(ctx context.Context, offset, limit int64) ([]domain.AssemblyRead, error) {
		var page []domain.AssemblyRead
		err := d.read(ctx, op, func(c conn) error {
			rows, err := c.query(ctx, query, append(slices.Clone(flat), limit, offset)...)
			if err != nil {
				return fmt.Errorf("read assembly reads: %w", err)
			}
			defer func() { _ = rows.Close() }()
			tables := readTablesFor(d.assemblyMethod)
			codec := codecFor(d.assemblyCompression)
			for rows.Next() {
				r, err := scanRead(rows, tables, codec)
				if err != nil {
					return err
				}
				page = append(page, r)
			}
			return rows.Err()
		})
		return page, err
	}, 0)
}

func scanRead(rows *sql.Rows, tables []readTable, codec readCodec) (domain.AssemblyRead, error) {
	var r domain.AssemblyRead
	var tbl, row int64
	var data []byte
	if err := rows.Scan(&tbl, &row, &r.Name, &r.PackedRow, &r.LeftmostPos, &r.EffectiveLength, &r.Flags, &r.MappingQuality, &data); err != nil {
		return r, err
	}
	if tbl < 0 || tbl >= int64(len(tables)) {
		return r, fmt.Errorf("read %d: unknown table %d", row, tbl)
	}
	r.ID = domain.NewEntityID(readKey(tables[tbl], row), domain.TypeAssemblyRead)
	if err := codec.decode(data, &r); err != nil {
		return r, err
	}
	return r, nil
}

// AddReads appends reads in batches inside one operations block.
func (a *assemblyDbi) AddReads(ctx context.Context, assemblyID domain.EntityID, reads dbi.Iterator[domain.AssemblyRead]) (int64, error) {
	if reads == nil {
		return 0, domain.Preconditionf("nil read iterator")
	}
	defer func() { _ = reads.Close() }()
	var added int64
	err := a.d.RunInOperationsBlock(ctx, func(ctx context.Context) error {
		if err := a.checkAssembly(ctx, assemblyID); err != nil {
			return err
		}
		batch := make([]domain.AssemblyRead, 0, readBatch)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			err := a.d.write(ctx, "add_reads", func(c conn) error {
				return a.d.insertReads(ctx, c, assemblyID.RowID(), batch)
			})
			if err != nil {
				return err
			}
			added += int64(len(batch))
			batch = batch[:0]
			return nil
		}
		for reads.Next(ctx) {
			batch = append(batch, reads.Value())
			if len(batch) == readBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := reads.Err(); err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		if err := flush(); err != nil {
			return err
		}
		return a.d.write(ctx, "add_reads", func(c conn) error {
			return incrementVersion(ctx, c, assemblyID)
		})
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (d *Dbi) insertReads(ctx context.Context, c conn, assembly int64, reads []domain.AssemblyRead) error {
	tables := readTablesFor(d.assemblyMethod)
	codec := codecFor(d.assemblyCompression)
	for _, r := range reads {
		if r.LeftmostPos < 0 {
			return domain.Preconditionf("read %q has negative position", r.Name)
		}
		elen := r.EffectiveLength
		if elen <= 0 {
			elen = domain.CigarReferenceLength(r.Cigar)
		}
		if elen <= 0 {
			elen = int64(len(r.Sequence))
		}
		data, err := codec.encode(r)
		if err != nil {
			return err
		}
		t := tableFor(tables, elen)
		row, err := c.insert(ctx, "INSERT INTO "+t.name+"(assembly, name, prow, gstart, elen, flags, mq, data) VALUES(?, ?, ?, ?, ?, ?, ?, ?)",
			assembly, r.Name, r.PackedRow, r.LeftmostPos, elen, r.Flags, r.MappingQuality, data)
		if err != nil {
			return fmt.Errorf("insert read %q: %w", r.Name, err)
		}
		if d.assemblyMethod == dbi.AssemblyMethodRTree {
			if _, err := c.exec(ctx, "INSERT INTO "+rtreeTable+"(id, gstart, gend, prow1, prow2) VALUES(?, ?, ?, ?, ?)",
				row, r.LeftmostPos, r.LeftmostPos+elen, r.PackedRow, r.PackedRow); err != nil {
				return fmt.Errorf("index read %q: %w", r.Name, err)
			}
		}
	}
	return nil
}

func (a *assemblyDbi) RemoveReads(ctx context.Context, assemblyID domain.EntityID, readIDs []domain.EntityID) error {
	return a.d.write(ctx, "remove_reads", func(c conn) error {
		if _, err := a.d.assemblyRow(ctx, c, assemblyID); err != nil {
			return err
		}
		tables := readTablesFor(a.d.assemblyMethod)
		for _, id := range readIDs {
			if id.Type() != domain.TypeAssemblyRead {
				return domain.Preconditionf("id %s is not a read", id)
			}
			t, row, ok := splitReadKey(tables, id.RowID())
			if !ok {
				return domain.NotFound(id)
			}
			res, err := c.exec(ctx, "DELETE FROM "+t.name+" WHERE id = ? AND assembly = ?", row, assemblyID.RowID())
			if err != nil {
				return fmt.Errorf("remove read %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.NotFound(id)
			}
			if a.d.assemblyMethod == dbi.AssemblyMethodRTree {
				if _, err := c.exec(ctx, "DELETE FROM "+rtreeTable+" WHERE id = ?", row); err != nil {
					return err
				}
			}
		}
		return incrementVersion(ctx, c, assemblyID)
	})
}

func (a *assemblyDbi) GetMaxEndPos(ctx context.Context, assemblyID domain.EntityID) (int64, error) {
	var maxEnd int64
	err := a.d.read(ctx, "get_max_end_pos", func(c conn) error {
		if _, err := a.d.assemblyRow(ctx, c, assemblyID); err != nil {
			return err
		}
		for _, t := range readTablesFor(a.d.assemblyMethod) {
			var v int64
			if err := c.queryRow(ctx, "SELECT COALESCE(MAX(gstart + elen), 0) FROM "+t.name+" WHERE assembly = ?", assemblyID.RowID()).Scan(&v); err != nil {
				return fmt.Errorf("max end position: %w", err)
			}
			maxEnd = max(maxEnd, v)
		}
		return nil
	})
	return maxEnd, err
}

type packedRead struct {
	table readTable
	row   int64
	start int64
	end   int64
}

// Pack assigns every read, in start order, the row whose last read ends
// earliest, provided it ends at or before the read's start; otherwise a new
// row. It returns the number of rows used.
func (a *assemblyDbi) Pack(ctx context.Context, assemblyID domain.EntityID) (int64, error) {
	var rowsUsed int64
	err := a.d.write(ctx, "pack_assembly", func(c conn) error {
		if _, err := a.d.assemblyRow(ctx, c, assemblyID); err != nil {
			return err
		}
		var reads []packedRead
		for _, t := range readTablesFor(a.d.assemblyMethod) {
			rows, err := c.query(ctx, "SELECT id, gstart, elen FROM "+t.name+" WHERE assembly = ?", assemblyID.RowID())
			if err != nil {
				return fmt.Errorf("load reads: %w", err)
			}
			for rows.Next() {
				pr := packedRead{table: t}
				var elen int64
				if err := rows.Scan(&pr.row, &pr.start, &elen); err != nil {
					_ = rows.Close()
					return err
				}
				pr.end = pr.start + elen
				reads = append(reads, pr)
			}
			if err := rows.Close(); err != nil {
				return err
			}
		}
		slices.SortFunc(reads, func(x, y packedRead) int {
			if x.start != y.start {
				return cmpInt64(x.start, y.start)
			}
			return cmpInt64(x.row, y.row)
		})
		rows := &rowHeap{}
		for _, r := range reads {
			prow := int64(rows.Len())
			if rows.Len() > 0 && (*rows)[0].end <= r.start {
				prow = (*rows)[0].row
				(*rows)[0].end = r.end
				heap.Fix(rows, 0)
			} else {
				heap.Push(rows, rowEnd{row: prow, end: r.end})
			}
			if _, err := c.exec(ctx, "UPDATE "+r.table.name+" SET prow = ? WHERE id = ?", prow, r.row); err != nil {
				return fmt.Errorf("store packed row: %w", err)
			}
			if a.d.assemblyMethod == dbi.AssemblyMethodRTree {
				if _, err := c.exec(ctx, "UPDATE "+rtreeTable+" SET prow1 = ?, prow2 = ? WHERE id = ?", prow, prow, r.row); err != nil {
					return fmt.Errorf("store packed row: %w", err)
				}
			}
		}
		rowsUsed = int64(rows.Len())
		return nil
	})
	return rowsUsed, err
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type rowEnd struct {
	row int64
	end int64
}

// rowHeap orders packed rows by the end of their last read, then by row.
type rowHeap []rowEnd

func (h rowHeap) Len() int { return len(h) }
func (h rowHeap) Less(i, j int) bool {
	if h[i].end != h[j].end {
		return h[i].end < h[j].end
	}
	return h[i].row < h[j].row
}
func (h rowHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *rowHeap) Push(x any)   { *h = append(*h, x.(rowEnd)) }
func (h *rowHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

func (d *Dbi) removeAssemblyRows(ctx context.Context, c conn, assembly int64) error {
	if d.assemblyMethod == dbi.AssemblyMethodRTree {
		if _, err := c.exec(ctx, "DELETE FROM "+rtreeTable+" WHERE id IN (SELECT id FROM AssemblyRead WHERE assembly = ?)", assembly); err != nil {
			return err
		}
	}
	for _, t := range readTablesFor(d.assemblyMethod) {
		if _, err := c.exec(ctx, "DELETE FROM "+t.name+" WHERE assembly = ?", assembly); err != nil {
			return err
		}
	}
	_, err := c.exec(ctx, "DELETE FROM Assembly WHERE object = ?", assembly)
	return err
}
