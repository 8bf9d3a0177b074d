package asf

import (
	"strings"

	"github.com/google/uuid"
)

// GUID is a 16-byte object or type identifier in its on-disk layout: the
// first three fields are little-endian, the last eight bytes are stored as
// written.
type GUID [16]byte

// guidFromString converts the canonical textual form into wire layout.
func guidFromString(s string) GUID {
	u := uuid.MustParse(s)
	var g GUID
	g[0], g[1], g[2], g[3] = u[3], u[2], u[1], u[0]
	g[4], g[5] = u[5], u[4]
	g[6], g[7] = u[7], u[6]
	copy(g[8:], u[8:])
	return g
}

// UUID returns the GUID in RFC 4122 byte order.
func (g GUID) UUID() uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = g[3], g[2], g[1], g[0]
	u[4], u[5] = g[5], g[4]
	u[6], u[7] = g[7], g[6]
	copy(u[8:], g[8:])
	return u
}

func (g GUID) String() string {
	return strings.ToUpper(g.UUID().String())
}

// Top-level and header object GUIDs.
var (
	GUIDHeader                     = guidFromString("75B22630-668E-11CF-A6D9-00AA0062CE6C")
	GUIDData                       = guidFromString("75B22636-668E-11CF-A6D9-00AA0062CE6C")
	GUIDSimpleIndex                = guidFromString("33000890-E5B1-11CF-89F4-00A0C90349CB")
	GUIDIndex                      = guidFromString("D6E229D3-35DA-11D1-9034-00A0C90349BE")
	GUIDFileProperties             = guidFromString("8CABDCA1-A947-11CF-8EE4-00C00C205365")
	GUIDStreamProperties           = guidFromString("B7DC0791-A9B7-11CF-8EE6-00C00C205365")
	GUIDHeaderExtension            = guidFromString("5FBF03B5-A92E-11CF-8EE3-00C00C205365")
	GUIDCodecList                  = guidFromString("86D15240-311D-11D0-A3A4-00A0C90348F6")
	GUIDScriptCommand              = guidFromString("1EFB1A30-0B62-11D0-A39B-00A0C90348F6")
	GUIDMarker                     = guidFromString("F487CD01-A951-11CF-8EE6-00C00C205365")
	GUIDBitrateMutualExclusion     = guidFromString("D6E229DC-35DA-11D1-9034-00A0C90349BE")
	GUIDErrorCorrection            = guidFromString("75B22635-668E-11CF-A6D9-00AA0062CE6C")
	GUIDContentDescription         = guidFromString("75B22633-668E-11CF-A6D9-00AA0062CE6C")
	GUIDExtendedContentDescription = guidFromString("D2D0A440-E307-11D2-97F0-00A0C95EA850")
	GUIDStreamBitrateProperties    = guidFromString("7BF875CE-468D-11D1-8D82-006097C9A2B2")
	GUIDContentEncryption          = guidFromString("2211B3FB-BD23-11D2-B4B7-00A0C955FC6E")
	GUIDExtendedContentEncryption  = guidFromString("298AE614-2622-4C17-B935-DAE07EE9289C")
	GUIDDigitalSignature           = guidFromString("2211B3FC-BD23-11D2-B4B7-00A0C955FC6E")
	GUIDPadding                    = guidFromString("1806D474-CADF-4509-A4BA-9AABCB96AAE8")
)

// Header extension object GUIDs.
var (
	GUIDExtendedStreamProperties = guidFromString("14E6A5CB-C672-4332-8399-A96952065B5A")
	GUIDLanguageList             = guidFromString("7C4346A9-EFE0-4BFC-B229-393EDE415C85")
	GUIDMetadata                 = guidFromString("C5F8CBEA-5BAF-4877-8467-AA8C44FA4CCA")
	GUIDMetadataLibrary          = guidFromString("44231C94-9498-49D1-A141-1D134E457054")
	GUIDIndexParameters          = guidFromString("D6E229DF-35DA-11D1-9034-00A0C90349BE")
	GUIDStreamPrioritization     = guidFromString("D4FED15B-88D3-454F-81F0-ED5C45999E24")
	GUIDAdvancedMutualExclusion  = guidFromString("A08649CF-4775-4670-8A16-6E35357566CD")
	GUIDCompatibility            = guidFromString("26F18B5D-4584-47EC-9F5F-0E651F0452C9")
	GUIDHeaderExtensionReserved  = guidFromString("ABD3D211-A9BA-11CF-8EE6-00C00C205365")
)

// Stream type GUIDs.
var (
	GUIDAudioMedia     = guidFromString("F8699E40-5B4D-11CF-A8FD-00805F5C442B")
	GUIDVideoMedia     = guidFromString("BC19EFC0-5B4D-11CF-A8FD-00805F5C442B")
	GUIDCommandMedia   = guidFromString("59DACFC0-59E6-11D0-A3AC-00A0C90348F6")
	GUIDJFIFMedia      = guidFromString("B61BE100-5B4E-11CF-A8FD-00805F5C442B")
	GUIDDegradableJPEG = guidFromString("35907DE0-E415-11CF-A917-00805F5C442B")
	GUIDFileTransfer   = guidFromString("91BD222C-F21C-11CF-8EE3-00C00C205365")
	GUIDBinaryMedia    = guidFromString("3AFB65E2-47EF-40F2-AC2C-70A90D71D343")

	GUIDNoErrorCorrection = guidFromString("20FB5700-5B55-11CF-A8FD-00805F5C442B")
	GUIDAudioSpread       = guidFromString("BFC3CD50-618F-11CF-8BB2-00AA00B4E220")
)

// ObjectKind classifies an object by its GUID.
type ObjectKind uint8

const (
	KindOpaque ObjectKind = iota
	KindHeader
	KindData
	KindFileProperties
	KindStreamProperties
	KindHeaderExtension
	KindCodecList
	KindScriptCommand
	KindMarker
	KindBitrateMutualExclusion
	KindErrorCorrection
	KindContentDescription
	KindExtendedContentDescription
	KindStreamBitrateProperties
	KindExtendedStreamProperties
	KindContentEncryption
	KindExtendedContentEncryption
	KindPadding

	// Recognized but not interpreted.
	KindSimpleIndex
	KindIndex
	KindDigitalSignature
	KindLanguageList
	KindMetadata
	KindMetadataLibrary
	KindIndexParameters
	KindStreamPrioritization
	KindAdvancedMutualExclusion
	KindCompatibility
)

var kindNames = [...]string{
	KindOpaque:                     "opaque",
	KindHeader:                     "header",
	KindData:                       "data",
	KindFileProperties:             "file properties",
	KindStreamProperties:           "stream properties",
	KindHeaderExtension:            "header extension",
	KindCodecList:                  "codec list",
	KindScriptCommand:              "script command",
	KindMarker:                     "marker",
	KindBitrateMutualExclusion:     "bitrate mutual exclusion",
	KindErrorCorrection:            "error correction",
	KindContentDescription:         "content description",
	KindExtendedContentDescription: "extended content description",
	KindStreamBitrateProperties:    "stream bitrate properties",
	KindExtendedStreamProperties:   "extended stream properties",
	KindContentEncryption:          "content encryption",
	KindExtendedContentEncryption:  "extended content encryption",
	KindPadding:                    "padding",
	KindSimpleIndex:                "simple index",
	KindIndex:                      "index",
	KindDigitalSignature:           "digital signature",
	KindLanguageList:               "language list",
	KindMetadata:                   "metadata",
	KindMetadataLibrary:            "metadata library",
	KindIndexParameters:            "index parameters",
	KindStreamPrioritization:       "stream prioritization",
	KindAdvancedMutualExclusion:    "advanced mutual exclusion",
	KindCompatibility:              "compatibility",
}

func (k ObjectKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

var objectKinds = map[GUID]ObjectKind{
	GUIDHeader:                     KindHeader,
	GUIDData:                       KindData,
	GUIDFileProperties:             KindFileProperties,
	GUIDStreamProperties:           KindStreamProperties,
	GUIDHeaderExtension:            KindHeaderExtension,
	GUIDCodecList:                  KindCodecList,
	GUIDScriptCommand:              KindScriptCommand,
	GUIDMarker:                     KindMarker,
	GUIDBitrateMutualExclusion:     KindBitrateMutualExclusion,
	GUIDErrorCorrection:            KindErrorCorrection,
	GUIDContentDescription:         KindContentDescription,
	GUIDExtendedContentDescription: KindExtendedContentDescription,
	GUIDStreamBitrateProperties:    KindStreamBitrateProperties,
	GUIDExtendedStreamProperties:   KindExtendedStreamProperties,
	GUIDContentEncryption:          KindContentEncryption,
	GUIDExtendedContentEncryption:  KindExtendedContentEncryption,
	GUIDPadding:                    KindPadding,
	GUIDSimpleIndex:                KindSimpleIndex,
	GUIDIndex:                      KindIndex,
	GUIDDigitalSignature:           KindDigitalSignature,
	GUIDLanguageList:               KindLanguageList,
	GUIDMetadata:                   KindMetadata,
	GUIDMetadataLibrary:            KindMetadataLibrary,
	GUIDIndexParameters:            KindIndexParameters,
	GUIDStreamPrioritization:       KindStreamPrioritization,
	GUIDAdvancedMutualExclusion:    KindAdvancedMutualExclusion,
	GUIDCompatibility:              KindCompatibility,
}

// KindOf returns the kind registered for g, or KindOpaque.
func KindOf(g GUID) ObjectKind {
	if k, ok := objectKinds[g]; ok {
		return k
	}
	return KindOpaque
}

// minObjectSize is the smallest legal total size (header included) per kind.
func minObjectSize(k ObjectKind) uint64 {
	switch k {
	case KindHeader:
		return 30
	case KindData:
		return 50
	case KindFileProperties:
		return 104
	case KindStreamProperties:
		return 78
	case KindHeaderExtension:
		return 46
	case KindCodecList, KindScriptCommand, KindErrorCorrection:
		return 44
	case KindMarker:
		return 48
	case KindBitrateMutualExclusion:
		return 42
	case KindContentDescription:
		return 34
	case KindExtendedContentDescription, KindStreamBitrateProperties:
		return 26
	case KindExtendedStreamProperties:
		return 88
	case KindContentEncryption:
		return 40
	case KindExtendedContentEncryption:
		return 28
	default:
		return objectHeaderSize
	}
}
