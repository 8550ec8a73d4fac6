package odataerr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a message in the catalog.
type Key string

// Resource path and query option messages.
const (
	KeySegmentNotFound      Key = "uri.segmentNotFound"
	KeyMalformedSegment     Key = "uri.malformedSegment"
	KeyKeyCount             Key = "uri.keyCount"
	KeyUnknownKeyProperty   Key = "uri.unknownKeyProperty"
	KeyKeyNotAllowed        Key = "uri.keyNotAllowed"
	KeySegmentAfterTerminal Key = "uri.segmentAfterTerminal"
	KeyNavigationNeedsKey   Key = "uri.navigationNeedsKey"
	KeyInvalidLiteral       Key = "uri.invalidLiteral"
	KeyDuplicateOption      Key = "uri.duplicateOption"
	KeyUnknownSystemOption  Key = "uri.unknownSystemOption"
	KeyInvalidOptionValue   Key = "uri.invalidOptionValue"
	KeyIncompatibleOption   Key = "uri.incompatibleOption"
	KeyMissingParameter     Key = "uri.missingParameter"
	KeyUnexpectedToken      Key = "expr.unexpectedToken"
	KeyUnterminatedLiteral  Key = "expr.unterminatedLiteral"
	KeyUnknownFunction      Key = "expr.unknownFunction"
	KeyArgumentCount        Key = "expr.argumentCount"
)

// Schema model messages.
const (
	KeyTypeNotFound           Key = "edm.typeNotFound"
	KeyContainerNotFound      Key = "edm.containerNotFound"
	KeyAssociationNotFound    Key = "edm.associationNotFound"
	KeyPropertyNotFound       Key = "edm.propertyNotFound"
	KeyUnmappedType           Key = "edm.unmappedType"
	KeyUnsupportedRelation    Key = "edm.unsupportedRelationship"
	KeyMissingKey             Key = "edm.missingKey"
	KeyInvalidModel           Key = "edm.invalidModel"
	KeyInconsistentNavigation Key = "edm.inconsistentNavigation"
	KeyMultiplicityMismatch   Key = "edm.multiplicityMismatch"
	KeyMissingJoinColumns     Key = "edm.missingJoinColumns"
	KeySchemaSealed           Key = "edm.schemaSealed"
	KeyDuplicateName          Key = "edm.duplicateName"
)

// Query building messages.
const (
	KeyNotNavigable     Key = "query.notNavigable"
	KeyNotComparable    Key = "query.notComparable"
	KeyExpandDepth      Key = "query.expandDepth"
	KeyTypeMismatch     Key = "query.typeMismatch"
	KeyUnsupportedQuery Key = "query.unsupported"
)

// Execution and projection messages.
const (
	KeyDatabaseRequired  Key = "exec.databaseRequired"
	KeySessionOpen       Key = "exec.sessionOpen"
	KeySessionClosed     Key = "exec.sessionClosed"
	KeyStatementFailed   Key = "exec.statementFailed"
	KeyFunctionFailed    Key = "exec.functionFailed"
	KeyHookFailed        Key = "exec.hookFailed"
	KeyConversionFailed  Key = "project.conversionFailed"
	KeyUnexpectedRowType Key = "project.unexpectedRowType"
)

var english = map[Key]string{
	KeySegmentNotFound:      "resource segment %q at position %d could not be resolved",
	KeyMalformedSegment:     "segment %q is malformed: %s",
	KeyKeyCount:             "entity type %s declares %d key properties but %d were given",
	KeyUnknownKeyProperty:   "%q is not a key property of %s",
	KeyKeyNotAllowed:        "segment %q does not accept a key predicate",
	KeySegmentAfterTerminal: "segment %q may not follow %q",
	KeyNavigationNeedsKey:   "navigation %q requires a key predicate on the preceding collection",
	KeyInvalidLiteral:       "literal %q is not a valid %s value",
	KeyDuplicateOption:      "system query option %s is given more than once",
	KeyUnknownSystemOption:  "unknown system query option %s",
	KeyInvalidOptionValue:   "invalid value %q for system query option %s",
	KeyIncompatibleOption:   "system query option %s is not allowed for resource kind %s",
	KeyMissingParameter:     "function import %s requires parameter %s",
	KeyUnexpectedToken:      "unexpected %q at position %d in %s",
	KeyUnterminatedLiteral:  "unterminated literal starting at position %d in %s",
	KeyUnknownFunction:      "unknown function %q",
	KeyArgumentCount:        "function %s expects %s arguments, got %d",

	KeyTypeNotFound:           "type %s is not part of the schema",
	KeyContainerNotFound:      "entity container %q does not exist",
	KeyAssociationNotFound:    "association %s does not exist",
	KeyPropertyNotFound:       "property %q is not declared on %s",
	KeyUnmappedType:           "field %s.%s has Go type %s which has no EDM mapping",
	KeyUnsupportedRelation:    "relationship %s.%s has an unsupported cardinality",
	KeyMissingKey:             "entity type %s has no key properties",
	KeyInvalidModel:           "model %s cannot be analyzed",
	KeyInconsistentNavigation: "navigation property %s.%s is inconsistent",
	KeyMultiplicityMismatch:   "association %s pairs multiplicity %s with %s",
	KeyMissingJoinColumns:     "association %s has no join columns",
	KeySchemaSealed:           "the schema has already been built; %s can no longer be registered",
	KeyDuplicateName:          "%s %q is already registered",

	KeyNotNavigable:     "%q cannot be navigated from %s",
	KeyNotComparable:    "property %q of %s cannot be used in an expression",
	KeyExpandDepth:      "expand path %q exceeds the maximum depth of %d",
	KeyTypeMismatch:     "operator %s cannot combine %s and %s",
	KeyUnsupportedQuery: "%s is not supported by this service",

	KeyDatabaseRequired:  "a database handle is required",
	KeySessionOpen:       "a persistence session could not be opened",
	KeySessionClosed:     "the persistence session is already closed",
	KeyStatementFailed:   "the backend rejected statement %s",
	KeyFunctionFailed:    "function import %s failed",
	KeyHookFailed:        "read hook %s of %s failed",
	KeyConversionFailed:  "value of %s cannot be converted to %s",
	KeyUnexpectedRowType: "row of Go type %s does not match entity type %s",
}

var german = map[Key]string{
	KeySegmentNotFound:     "Ressourcensegment %q an Position %d konnte nicht aufgelöst werden",
	KeyInvalidLiteral:      "Literal %q ist kein gültiger %s-Wert",
	KeyDuplicateOption:     "Systemabfrageoption %s wurde mehrfach angegeben",
	KeyIncompatibleOption:  "Systemabfrageoption %s ist für Ressourcenart %s nicht erlaubt",
	KeyUnknownSystemOption: "unbekannte Systemabfrageoption %s",
	KeyPropertyNotFound:    "Eigenschaft %q ist in %s nicht deklariert",
	KeyTypeNotFound:        "Typ %s ist nicht Teil des Schemas",
	KeyDatabaseRequired:    "ein Datenbank-Handle ist erforderlich",
	KeyStatementFailed:     "das Backend hat die Anweisung %s abgelehnt",
}

var (
	translations = map[language.Tag]map[Key]string{
		language.English: english,
		language.German:  german,
	}
	supported = []language.Tag{language.English, language.German}
	matcher   = language.NewMatcher(supported)
	messages  = newCatalog()
)

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, table := range translations {
		for key, msg := range table {
			if err := b.SetString(tag, string(key), msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// resolveTag picks the catalog language used for key in the requested locale.
func resolveTag(tag language.Tag, key Key) language.Tag {
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	best := supported[idx]
	if _, ok := translations[best][key]; !ok {
		return language.English
	}
	return best
}

func render(tag language.Tag, key Key, args []any) string {
	p := message.NewPrinter(resolveTag(tag, key), message.Catalog(messages))
	return p.Sprintf(string(key), args...)
}

// Languages returns the locales that have translations in the catalog.
func Languages() []language.Tag {
	return append([]language.Tag(nil), supported...)
}
