// Package dburl encodes and decodes the string addresses of databases,
// folders and objects:
//
//	db-url     := factoryId '>' dbiId
//	folder-url := db-url ',' dataType ':' folderPath
//	object-url := db-url ',' rowId ':' dataType ':' objectName
//
// A folder path always starts with "/" and a row id never does, which tells
// the two entity forms apart.
package dburl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"biostore/pkg/domain"
)

// Separators.
const (
	ProviderSep = ">"
	URLSep      = ","
	ObjIDSep    = ":"
)

// ErrMalformedURL reports input that does not match the grammar.
var ErrMalformedURL = errors.New("malformed database url")

func malformed(url, what string) error {
	return fmt.Errorf("%w: %q: %s", ErrMalformedURL, url, what)
}

// CreateDbURL encodes a database reference.
func CreateDbURL(ref domain.DbiRef) (string, error) {
	if !ref.IsValid() {
		return "", domain.Preconditionf("invalid dbi reference %+v", ref)
	}
	if strings.Contains(ref.FactoryID, ProviderSep) || strings.Contains(ref.DbiID, URLSep) {
		return "", domain.Preconditionf("dbi reference %s contains a url separator", ref)
	}
	return ref.FactoryID + ProviderSep + ref.DbiID, nil
}

// ValidateDbURL reports whether dbURL is a bare database address.
func ValidateDbURL(dbURL string) bool {
	factory, id, ok := strings.Cut(dbURL, ProviderSep)
	return ok && factory != "" && id != "" && !strings.Contains(id, URLSep)
}

// CreateDbFolderURL encodes a folder of the database ref. compatible names
// the kind of object the folder is meant to hold.
func CreateDbFolderURL(ref domain.DbiRef, folder string, compatible domain.DataType) (string, error) {
	dbURL, err := CreateDbURL(ref)
	if err != nil {
		return "", err
	}
	return CreateDbFolderURLFromDbURL(dbURL, folder, compatible)
}

// CreateDbFolderURLFromDbURL encodes a folder of an already encoded database.
func CreateDbFolderURLFromDbURL(dbURL, folder string, compatible domain.DataType) (string, error) {
	if !ValidateDbURL(dbURL) {
		return "", malformed(dbURL, "not a database url")
	}
	if !strings.HasPrefix(folder, domain.RootFolder) {
		return "", domain.Preconditionf("folder path %q is not absolute", folder)
	}
	return dbURL + URLSep + strconv.Itoa(int(compatible)) + ObjIDSep + folder, nil
}

// CreateDbObjectURL encodes an object of the database ref.
func CreateDbObjectURL(ref domain.DbiRef, id domain.EntityID, name string) (string, error) {
	dbURL, err := CreateDbURL(ref)
	if err != nil {
		return "", err
	}
	if id.IsZero() {
		return "", domain.Preconditionf("null object id")
	}
	if name == "" {
		return "", domain.Preconditionf("empty object name")
	}
	return objectURL(dbURL, id.RowID(), id.Type(), name), nil
}

// CreateDbObjectURLFromDbURL encodes an object of an already encoded
// database. objType is a kind name as printed by DataType.String.
func CreateDbObjectURLFromDbURL(dbURL string, rowID int64, objType, name string) (string, error) {
	if !ValidateDbURL(dbURL) {
		return "", malformed(dbURL, "not a database url")
	}
	t, ok := domain.ParseDataType(objType)
	if !ok || !t.IsObject() {
		return "", domain.Preconditionf("unknown object type %q", objType)
	}
	if name == "" {
		return "", domain.Preconditionf("empty object name")
	}
	return objectURL(dbURL, rowID, t, name), nil
}

func objectURL(dbURL string, rowID int64, t domain.DataType, name string) string {
	return dbURL + URLSep + strconv.FormatInt(rowID, 10) + ObjIDSep + strconv.Itoa(int(t)) + ObjIDSep + name
}

// entityPart returns what follows the url separator.
func entityPart(url string) (string, bool) {
	p := strings.Index(url, ProviderSep)
	if p < 1 {
		return "", false
	}
	u := strings.Index(url[p:], URLSep)
	if u == -1 {
		return "", false
	}
	return url[p+u+1:], true
}

// IsDbFolderURL reports whether url has the folder form: a numeric data
// type followed by an absolute path.
func IsDbFolderURL(url string) bool {
	rest, ok := entityPart(url)
	if !ok {
		return false
	}
	dataType, path, ok := strings.Cut(rest, ObjIDSep)
	return ok && isDigits(dataType) && strings.HasPrefix(path, domain.RootFolder)
}

// IsDbObjectURL reports whether url has the object form: numeric row id
// and data type followed by a non-empty name. Values too large for the
// decoders still pass; the decoders report those as malformed.
func IsDbObjectURL(url string) bool {
	rest, ok := entityPart(url)
	if !ok {
		return false
	}
	rowID, tail, ok := strings.Cut(rest, ObjIDSep)
	if !ok || strings.HasPrefix(tail, domain.RootFolder) {
		return false
	}
	dataType, name, ok := strings.Cut(tail, ObjIDSep)
	return ok && isDigits(rowID) && isDigits(dataType) && name != ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DbRefFromEntityURL decodes the database part of any url form, the bare
// database form included.
func DbRefFromEntityURL(url string) (domain.DbiRef, error) {
	p := strings.Index(url, ProviderSep)
	if p < 1 {
		return domain.DbiRef{}, malformed(url, "missing provider")
	}
	id := url[p+1:]
	if u := strings.Index(id, URLSep); u != -1 {
		id = id[:u]
	}
	if id == "" {
		return domain.DbiRef{}, malformed(url, "empty database id")
	}
	return domain.DbiRef{FactoryID: url[:p], DbiID: id}, nil
}

// DbURLFromEntityURL strips the folder or object part.
func DbURLFromEntityURL(url string) (string, error) {
	rest, ok := entityPart(url)
	if !ok {
		return "", malformed(url, "not an entity url")
	}
	return url[:len(url)-len(rest)-1], nil
}

type objectParts struct {
	rowID int64
	kind  domain.DataType
	name  string
}

func disassembleObject(url string) (objectParts, error) {
	if !IsDbObjectURL(url) {
		return objectParts{}, malformed(url, "not an object url")
	}
	rest, _ := entityPart(url)
	rowStr, tail, _ := strings.Cut(rest, ObjIDSep)
	typeStr, name, _ := strings.Cut(tail, ObjIDSep)
	rowID, err := strconv.ParseInt(rowStr, 10, 64)
	if err != nil {
		return objectParts{}, malformed(url, "bad object id")
	}
	kind, err := parseType(typeStr)
	if err != nil {
		return objectParts{}, malformed(url, err.Error())
	}
	return objectParts{rowID: rowID, kind: kind, name: name}, nil
}

func parseType(s string) (domain.DataType, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return domain.TypeUnknown, fmt.Errorf("bad data type %q", s)
	}
	return domain.DataType(v), nil
}

// ObjectIDByURL decodes the typed id of an object url.
func ObjectIDByURL(url string) (domain.EntityID, error) {
	p, err := disassembleObject(url)
	if err != nil {
		return domain.EntityID{}, err
	}
	return domain.NewEntityID(p.rowID, p.kind), nil
}

// ObjectNumberIDByURL decodes the numeric row id of an object url.
func ObjectNumberIDByURL(url string) (int64, error) {
	p, err := disassembleObject(url)
	if err != nil {
		return -1, err
	}
	return p.rowID, nil
}

// DbObjectTypeByURL decodes the object kind.
func DbObjectTypeByURL(url string) (domain.DataType, error) {
	p, err := disassembleObject(url)
	if err != nil {
		return domain.TypeUnknown, err
	}
	return p.kind, nil
}

// DbObjectNameByURL decodes the object name.
func DbObjectNameByURL(url string) (string, error) {
	p, err := disassembleObject(url)
	if err != nil {
		return "", err
	}
	return p.name, nil
}

// ObjEntityRefByURL decodes a fully qualified object reference.
func ObjEntityRefByURL(url string) (domain.EntityRef, error) {
	id, err := ObjectIDByURL(url)
	if err != nil {
		return domain.EntityRef{}, err
	}
	ref, err := DbRefFromEntityURL(url)
	if err != nil {
		return domain.EntityRef{}, err
	}
	return domain.EntityRef{DbiRef: ref, EntityID: id}, nil
}

func folderParts(url string) (string, string, error) {
	if !IsDbFolderURL(url) {
		return "", "", malformed(url, "not a folder url")
	}
	rest, _ := entityPart(url)
	typeStr, path, _ := strings.Cut(rest, ObjIDSep)
	return typeStr, path, nil
}

// DbFolderPathByURL decodes the folder path.
func DbFolderPathByURL(url string) (string, error) {
	_, path, err := folderParts(url)
	return path, err
}

// DbFolderDataTypeByURL decodes the kind a folder url is compatible with.
func DbFolderDataTypeByURL(url string) (domain.DataType, error) {
	typeStr, _, err := folderParts(url)
	if err != nil {
		return domain.TypeUnknown, err
	}
	t, err := parseType(typeStr)
	if err != nil {
		return domain.TypeUnknown, malformed(url, err.Error())
	}
	return t, nil
}
