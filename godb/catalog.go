package godb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// tableInfo is a catalog entry: the catalog-assigned id a reimplementation
// uses in place of the source's path-hash table id (spec.md §9), the
// table's name, and the DBFile backing it.
type tableInfo struct {
	id   int
	name string
	file DBFile
}

// Catalog maps table names and catalog-assigned ids to the DBFile storing
// each table, and is the collaborator LogFile consults to find a heap file
// given only a page's table id (spec.md §4, §6). It is loaded
// once, from a simple text file, at startup.
type Catalog struct {
	mu           sync.Mutex
	catalogFile  string
	rootDir      string
	bp           *BufferPool
	tableMap     map[string]*tableInfo
	tablesByID   map[int]*tableInfo
	nextID       int
}

// NewCatalog creates a Catalog backed by catalogFile (read by
// parseCatalogFile), resolving relative heap file paths against rootDir
// and opening them through bp.
func NewCatalog(catalogFile string, bp *BufferPool, rootDir string) *Catalog {
	return &Catalog{
		catalogFile: catalogFile,
		rootDir:     rootDir,
		bp:          bp,
		tableMap:    make(map[string]*tableInfo),
		tablesByID:  make(map[int]*tableInfo),
	}
}

// tableNameToFile returns the backing file path for a table name.
func (c *Catalog) tableNameToFile(tableName string) string {
	return filepath.Join(c.rootDir, tableName+".dat")
}

// parseCatalogFile reads c.catalogFile, one table per line, in the form
//
//	tableName (field1 int, field2 string, ...)
//
// opening (or creating) each table's backing heap file and assigning it
// the next catalog id in file order.
func (c *Catalog) parseCatalogFile() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.catalogFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.addTableFromLine(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *Catalog) addTableFromLine(line string) error {
	open := strings.Index(line, "(")
	parenEnd := strings.LastIndex(line, ")")
	if open < 0 || parenEnd < open {
		return GoDBError{MalformedDataError, fmt.Sprintf("malformed catalog line: %s", line)}
	}
	tableName := strings.TrimSpace(line[:open])
	fieldSpecs := strings.Split(line[open+1:parenEnd], ",")

	var fields []FieldType
	for _, spec := range fieldSpecs {
		parts := strings.Fields(strings.TrimSpace(spec))
		if len(parts) != 2 {
			return GoDBError{MalformedDataError, fmt.Sprintf("malformed field in catalog line: %s", spec)}
		}
		var ftype DBType
		switch strings.ToLower(parts[1]) {
		case "int", "integer":
			ftype = IntType
		case "string", "varchar":
			ftype = StringType
		default:
			return GoDBError{MalformedDataError, fmt.Sprintf("unknown field type: %s", parts[1])}
		}
		fields = append(fields, FieldType{Fname: parts[0], Ftype: ftype})
	}

	desc := &TupleDesc{Fields: fields}
	hf, err := NewHeapFile(c.tableNameToFile(tableName), desc, c.bp)
	if err != nil {
		return err
	}

	id := c.nextID
	c.nextID++
	info := &tableInfo{id: id, name: tableName, file: hf}
	c.tableMap[tableName] = info
	c.tablesByID[id] = info
	return nil
}

// GetTable returns the DBFile backing tableName.
func (c *Catalog) GetTable(tableName string) (DBFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.tableMap[tableName]
	if !ok {
		return nil, GoDBError{TupleNotFoundError, fmt.Sprintf("table %s not found in catalog", tableName)}
	}
	return info.file, nil
}

// GetTableInfoId returns the catalog entry for a catalog-assigned table id,
// used by LogFile when replaying a page update record.
func (c *Catalog) GetTableInfoId(id int) (*tableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.tablesByID[id]
	if !ok {
		return nil, GoDBError{TupleNotFoundError, fmt.Sprintf("no table with catalog id %d", id)}
	}
	return info, nil
}

// GetTableInfoDBFile returns the catalog entry owning file, used by LogFile
// when writing a page update record.
func (c *Catalog) GetTableInfoDBFile(file DBFile) (*tableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range c.tableMap {
		if info.file == file {
			return info, nil
		}
	}
	return nil, GoDBError{TupleNotFoundError, "file is not registered in catalog"}
}

// GetTupleDesc returns the schema of the table named by a catalog id.
func (c *Catalog) GetTupleDesc(id int) (*TupleDesc, error) {
	info, err := c.GetTableInfoId(id)
	if err != nil {
		return nil, err
	}
	return info.file.Descriptor(), nil
}

// GetTableName returns the name of the table assigned catalog id id.
func (c *Catalog) GetTableName(id int) (string, error) {
	info, err := c.GetTableInfoId(id)
	if err != nil {
		return "", err
	}
	return info.name, nil
}

// TableIDIterator returns every catalog-assigned table id, in ascending
// (i.e. catalog-file) order.
func (c *Catalog) TableIDIterator() func() (int, bool) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.tablesByID))
	for id := range c.tablesByID {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}

	idx := 0
	return func() (int, bool) {
		if idx >= len(ids) {
			return 0, false
		}
		id := ids[idx]
		idx++
		return id, true
	}
}
