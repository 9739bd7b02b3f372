package errcode

// Numeric identifiers, grouped by component in blocks of 100. These are
// part of the external contract (spec.md §7): once assigned, a code must
// not be reused for a different precondition.
const (
	// xmlwriter: 1000-1099
	CodeXMLWriterCreateFailed = 1000
	CodeXMLWriterWriteFailed  = 1001
	CodeXMLWriterCloseFailed  = 1002

	// digest: 1100-1199
	CodeDigestUnsupportedAlgorithm = 1100
	CodeDigestSourceMissing        = 1101
	CodeDigestReadFailed           = 1102

	// template: 1200-1299
	CodeTemplateNilTemplate        = 1200
	CodeTemplateNilRow             = 1201
	CodeTemplateBadColumnIndex     = 1202
	CodeTemplateColumnOutOfRange   = 1203
	CodeTemplateColumnNull         = 1204
	CodeTemplateUnknownToken       = 1205
	CodeTemplateFileUnreadable    = 1206
	CodeTemplateMissingHeaderLine = 1207

	// veocontent (content builder): 1300-1399
	CodeContentIllegalTransition  = 1300
	CodeContentNilTemplateOrRow   = 1301
	CodeContentBlankIPLabel       = 1302
	CodeContentEmptyIPFinish      = 1303
	CodeContentEmptyTypeLabel     = 1304
	CodeContentNegativeDepth      = 1305
	CodeContentBadArchivePath     = 1306
	CodeContentSourceMissing      = 1307
	CodeContentAlreadyClosed      = 1308
	CodeContentWriteFailed        = 1309

	// veohistory (history builder): 1400-1499
	CodeHistoryNilTimestamp      = 1400
	CodeHistoryIllegalTransition = 1401
	CodeHistoryWriteFailed       = 1402

	// veosign (signature builder): 1500-1599
	CodeSignBadManifestName        = 1500
	CodeSignUnsupportedAlgoCombo    = 1501
	CodeSignPrimitiveUnavailable    = 1502
	CodeSignNoAvailableSuffix       = 1503
	CodeSignManifestReadFailed      = 1504
	CodeSignDescriptorWriteFailed   = 1505

	// veo (assembler): 1600-1699
	CodeVEOWorkDirInvalid        = 1600
	CodeVEONameNil               = 1601
	CodeVEOStagingDirFailed      = 1602
	CodeVEOReadmeMissing         = 1603
	CodeVEODuplicateRoot         = 1604
	CodeVEOUnknownRoot           = 1605
	CodeVEOIllegalTransition     = 1606
	CodeVEODuplicateDestination  = 1607
	CodeVEOZipFailed             = 1608
	CodeVEOHashUnsupported       = 1609
	CodeVEOEventAfterFinish      = 1610

	// signer: 1700-1799
	CodeSignerBadPFX           = 1700
	CodeSignerBadPassword      = 1701 // reserved; PFX password failures surface as CodeSignerBadPFX
	CodeSignerUnsupportedKey   = 1702
	CodeSignerCertChainEmpty   = 1703
	CodeSignerRemoteFailed     = 1704

	// batch driver: 1800-1899
	CodeBatchScriptUnreadable     = 1800
	CodeBatchUnknownCommand       = 1801
	CodeBatchCommandAfterFirstBV  = 1802
	CodeBatchNoActiveVEO          = 1803
	CodeBatchMissingArgs          = 1804
	CodeBatchFileNotFound         = 1805
	CodeBatchEncodingUnsupported  = 1806
)
