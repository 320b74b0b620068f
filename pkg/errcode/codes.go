package errcode

import (
	sqlite3 "modernc.org/sqlite/lib"
)

// primary result codes
const (
	OK         Code = sqlite3.SQLITE_OK
	Generic    Code = sqlite3.SQLITE_ERROR
	Internal   Code = sqlite3.SQLITE_INTERNAL
	Perm       Code = sqlite3.SQLITE_PERM
	Abort      Code = sqlite3.SQLITE_ABORT
	Busy       Code = sqlite3.SQLITE_BUSY
	Locked     Code = sqlite3.SQLITE_LOCKED
	NoMem      Code = sqlite3.SQLITE_NOMEM
	ReadOnly   Code = sqlite3.SQLITE_READONLY
	Interrupt  Code = sqlite3.SQLITE_INTERRUPT
	IOErr      Code = sqlite3.SQLITE_IOERR
	Corrupt    Code = sqlite3.SQLITE_CORRUPT
	NotFound   Code = sqlite3.SQLITE_NOTFOUND
	Full       Code = sqlite3.SQLITE_FULL
	CantOpen   Code = sqlite3.SQLITE_CANTOPEN
	Protocol   Code = sqlite3.SQLITE_PROTOCOL
	Empty      Code = sqlite3.SQLITE_EMPTY
	Schema     Code = sqlite3.SQLITE_SCHEMA
	TooBig     Code = sqlite3.SQLITE_TOOBIG
	Constraint Code = sqlite3.SQLITE_CONSTRAINT
	Mismatch   Code = sqlite3.SQLITE_MISMATCH
	Misuse     Code = sqlite3.SQLITE_MISUSE
	NoLFS      Code = sqlite3.SQLITE_NOLFS
	Auth       Code = sqlite3.SQLITE_AUTH
	Format     Code = sqlite3.SQLITE_FORMAT
	Range      Code = sqlite3.SQLITE_RANGE
	NotADB     Code = sqlite3.SQLITE_NOTADB
	Notice     Code = sqlite3.SQLITE_NOTICE
	Warning    Code = sqlite3.SQLITE_WARNING
	Row        Code = sqlite3.SQLITE_ROW
	Done       Code = sqlite3.SQLITE_DONE
)

// extended result codes, primary code in the low byte
const (
	ErrorMissingCollSeq = Generic | 1<<8
	ErrorRetry          = Generic | 2<<8
	ErrorSnapshot       = Generic | 3<<8

	IOErrRead              = IOErr | 1<<8
	IOErrShortRead         = IOErr | 2<<8
	IOErrWrite             = IOErr | 3<<8
	IOErrFsync             = IOErr | 4<<8
	IOErrDirFsync          = IOErr | 5<<8
	IOErrTruncate          = IOErr | 6<<8
	IOErrFstat             = IOErr | 7<<8
	IOErrUnlock            = IOErr | 8<<8
	IOErrRDLock            = IOErr | 9<<8
	IOErrDelete            = IOErr | 10<<8
	IOErrBlocked           = IOErr | 11<<8
	IOErrNoMem             = IOErr | 12<<8
	IOErrAccess            = IOErr | 13<<8
	IOErrCheckReservedLock = IOErr | 14<<8
	IOErrLock              = IOErr | 15<<8
	IOErrClose             = IOErr | 16<<8
	IOErrDirClose          = IOErr | 17<<8
	IOErrShmOpen           = IOErr | 18<<8
	IOErrShmSize           = IOErr | 19<<8
	IOErrShmLock           = IOErr | 20<<8
	IOErrShmMap            = IOErr | 21<<8
	IOErrSeek              = IOErr | 22<<8
	IOErrDeleteNoEnt       = IOErr | 23<<8
	IOErrMmap              = IOErr | 24<<8
	IOErrGetTempPath       = IOErr | 25<<8
	IOErrConvPath          = IOErr | 26<<8
	IOErrVNode             = IOErr | 27<<8
	IOErrAuth              = IOErr | 28<<8
	IOErrBeginAtomic       = IOErr | 29<<8
	IOErrCommitAtomic      = IOErr | 30<<8
	IOErrRollbackAtomic    = IOErr | 31<<8
	IOErrData              = IOErr | 32<<8
	IOErrCorruptFS         = IOErr | 33<<8

	LockedSharedCache = Locked | 1<<8
	LockedVTab        = Locked | 2<<8

	BusyRecovery = Busy | 1<<8
	BusySnapshot = Busy | 2<<8
	BusyTimeout  = Busy | 3<<8

	CantOpenNoTempDir = CantOpen | 1<<8
	CantOpenIsDir     = CantOpen | 2<<8
	CantOpenFullPath  = CantOpen | 3<<8
	CantOpenConvPath  = CantOpen | 4<<8
	CantOpenDirtyWAL  = CantOpen | 5<<8
	CantOpenSymlink   = CantOpen | 6<<8

	CorruptVTab     = Corrupt | 1<<8
	CorruptSequence = Corrupt | 2<<8
	CorruptIndex    = Corrupt | 3<<8

	ReadOnlyRecovery  = ReadOnly | 1<<8
	ReadOnlyCantLock  = ReadOnly | 2<<8
	ReadOnlyRollback  = ReadOnly | 3<<8
	ReadOnlyDBMoved   = ReadOnly | 4<<8
	ReadOnlyCantInit  = ReadOnly | 5<<8
	ReadOnlyDirectory = ReadOnly | 6<<8

	AbortRollback = Abort | 2<<8

	ConstraintCheck      = Constraint | 1<<8
	ConstraintCommitHook = Constraint | 2<<8
	ConstraintForeignKey = Constraint | 3<<8
	ConstraintFunction   = Constraint | 4<<8
	ConstraintNotNull    = Constraint | 5<<8
	ConstraintPrimaryKey = Constraint | 6<<8
	ConstraintTrigger    = Constraint | 7<<8
	ConstraintUnique     = Constraint | 8<<8
	ConstraintVTab       = Constraint | 9<<8
	ConstraintRowID      = Constraint | 10<<8
	ConstraintPinned     = Constraint | 11<<8
	ConstraintDataType   = Constraint | 12<<8

	NoticeRecoverWAL      = Notice | 1<<8
	NoticeRecoverRollback = Notice | 2<<8
	NoticeRBU             = Notice | 3<<8

	WarningAutoIndex = Warning | 1<<8

	AuthUser = Auth | 1<<8

	OKLoadPermanently = OK | 1<<8
	OKSymlink         = OK | 2<<8
)

var names = map[Code]string{
	OK: "SQLITE_OK", Generic: "SQLITE_ERROR", Internal: "SQLITE_INTERNAL", Perm: "SQLITE_PERM",
	Abort: "SQLITE_ABORT", Busy: "SQLITE_BUSY", Locked: "SQLITE_LOCKED", NoMem: "SQLITE_NOMEM",
	ReadOnly: "SQLITE_READONLY", Interrupt: "SQLITE_INTERRUPT", IOErr: "SQLITE_IOERR",
	Corrupt: "SQLITE_CORRUPT", NotFound: "SQLITE_NOTFOUND", Full: "SQLITE_FULL",
	CantOpen: "SQLITE_CANTOPEN", Protocol: "SQLITE_PROTOCOL", Empty: "SQLITE_EMPTY",
	Schema: "SQLITE_SCHEMA", TooBig: "SQLITE_TOOBIG", Constraint: "SQLITE_CONSTRAINT",
	Mismatch: "SQLITE_MISMATCH", Misuse: "SQLITE_MISUSE", NoLFS: "SQLITE_NOLFS", Auth: "SQLITE_AUTH",
	Format: "SQLITE_FORMAT", Range: "SQLITE_RANGE", NotADB: "SQLITE_NOTADB", Notice: "SQLITE_NOTICE",
	Warning: "SQLITE_WARNING", Row: "SQLITE_ROW", Done: "SQLITE_DONE",

	ErrorMissingCollSeq: "SQLITE_ERROR_MISSING_COLLSEQ", ErrorRetry: "SQLITE_ERROR_RETRY",
	ErrorSnapshot: "SQLITE_ERROR_SNAPSHOT",

	IOErrRead: "SQLITE_IOERR_READ", IOErrShortRead: "SQLITE_IOERR_SHORT_READ", IOErrWrite: "SQLITE_IOERR_WRITE",
	IOErrFsync: "SQLITE_IOERR_FSYNC", IOErrDirFsync: "SQLITE_IOERR_DIR_FSYNC",
	IOErrTruncate: "SQLITE_IOERR_TRUNCATE", IOErrFstat: "SQLITE_IOERR_FSTAT", IOErrUnlock: "SQLITE_IOERR_UNLOCK",
	IOErrRDLock: "SQLITE_IOERR_RDLOCK", IOErrDelete: "SQLITE_IOERR_DELETE", IOErrBlocked: "SQLITE_IOERR_BLOCKED",
	IOErrNoMem: "SQLITE_IOERR_NOMEM", IOErrAccess: "SQLITE_IOERR_ACCESS",
	IOErrCheckReservedLock: "SQLITE_IOERR_CHECKRESERVEDLOCK", IOErrLock: "SQLITE_IOERR_LOCK",
	IOErrClose: "SQLITE_IOERR_CLOSE", IOErrDirClose: "SQLITE_IOERR_DIR_CLOSE",
	IOErrShmOpen: "SQLITE_IOERR_SHMOPEN", IOErrShmSize: "SQLITE_IOERR_SHMSIZE",
	IOErrShmLock: "SQLITE_IOERR_SHMLOCK", IOErrShmMap: "SQLITE_IOERR_SHMMAP", IOErrSeek: "SQLITE_IOERR_SEEK",
	IOErrDeleteNoEnt: "SQLITE_IOERR_DELETE_NOENT", IOErrMmap: "SQLITE_IOERR_MMAP",
	IOErrGetTempPath: "SQLITE_IOERR_GETTEMPPATH", IOErrConvPath: "SQLITE_IOERR_CONVPATH",
	IOErrVNode: "SQLITE_IOERR_VNODE", IOErrAuth: "SQLITE_IOERR_AUTH",
	IOErrBeginAtomic: "SQLITE_IOERR_BEGIN_ATOMIC", IOErrCommitAtomic: "SQLITE_IOERR_COMMIT_ATOMIC",
	IOErrRollbackAtomic: "SQLITE_IOERR_ROLLBACK_ATOMIC", IOErrData: "SQLITE_IOERR_DATA",
	IOErrCorruptFS: "SQLITE_IOERR_CORRUPTFS",

	LockedSharedCache: "SQLITE_LOCKED_SHAREDCACHE", LockedVTab: "SQLITE_LOCKED_VTAB",

	BusyRecovery: "SQLITE_BUSY_RECOVERY", BusySnapshot: "SQLITE_BUSY_SNAPSHOT", BusyTimeout: "SQLITE_BUSY_TIMEOUT",

	CantOpenNoTempDir: "SQLITE_CANTOPEN_NOTEMPDIR", CantOpenIsDir: "SQLITE_CANTOPEN_ISDIR",
	CantOpenFullPath: "SQLITE_CANTOPEN_FULLPATH", CantOpenConvPath: "SQLITE_CANTOPEN_CONVPATH",
	CantOpenDirtyWAL: "SQLITE_CANTOPEN_DIRTYWAL", CantOpenSymlink: "SQLITE_CANTOPEN_SYMLINK",

	CorruptVTab: "SQLITE_CORRUPT_VTAB", CorruptSequence: "SQLITE_CORRUPT_SEQUENCE",
	CorruptIndex: "SQLITE_CORRUPT_INDEX",

	ReadOnlyRecovery: "SQLITE_READONLY_RECOVERY", ReadOnlyCantLock: "SQLITE_READONLY_CANTLOCK",
	ReadOnlyRollback: "SQLITE_READONLY_ROLLBACK", ReadOnlyDBMoved: "SQLITE_READONLY_DBMOVED",
	ReadOnlyCantInit: "SQLITE_READONLY_CANTINIT", ReadOnlyDirectory: "SQLITE_READONLY_DIRECTORY",

	AbortRollback: "SQLITE_ABORT_ROLLBACK",

	ConstraintCheck: "SQLITE_CONSTRAINT_CHECK", ConstraintCommitHook: "SQLITE_CONSTRAINT_COMMITHOOK",
	ConstraintForeignKey: "SQLITE_CONSTRAINT_FOREIGNKEY", ConstraintFunction: "SQLITE_CONSTRAINT_FUNCTION",
	ConstraintNotNull: "SQLITE_CONSTRAINT_NOTNULL", ConstraintPrimaryKey: "SQLITE_CONSTRAINT_PRIMARYKEY",
	ConstraintTrigger: "SQLITE_CONSTRAINT_TRIGGER", ConstraintUnique: "SQLITE_CONSTRAINT_UNIQUE",
	ConstraintVTab: "SQLITE_CONSTRAINT_VTAB", ConstraintRowID: "SQLITE_CONSTRAINT_ROWID",
	ConstraintPinned: "SQLITE_CONSTRAINT_PINNED", ConstraintDataType: "SQLITE_CONSTRAINT_DATATYPE",

	NoticeRecoverWAL: "SQLITE_NOTICE_RECOVER_WAL", NoticeRecoverRollback: "SQLITE_NOTICE_RECOVER_ROLLBACK",
	NoticeRBU: "SQLITE_NOTICE_RBU",

	WarningAutoIndex: "SQLITE_WARNING_AUTOINDEX",

	AuthUser: "SQLITE_AUTH_USER",

	OKLoadPermanently: "SQLITE_OK_LOAD_PERMANENTLY", OKSymlink: "SQLITE_OK_SYMLINK",
}

// descriptions follow the engine's own wording for primary codes
var descriptions = map[Code]string{
	OK:         "not an error",
	Generic:    "SQL logic error",
	Internal:   "internal logic error",
	Perm:       "access permission denied",
	Abort:      "query aborted",
	Busy:       "database is locked",
	Locked:     "database table is locked",
	NoMem:      "out of memory",
	ReadOnly:   "attempt to write a readonly database",
	Interrupt:  "interrupted",
	IOErr:      "disk I/O error",
	Corrupt:    "database disk image is malformed",
	NotFound:   "unknown operation",
	Full:       "database or disk is full",
	CantOpen:   "unable to open database file",
	Protocol:   "locking protocol",
	Empty:      "empty",
	Schema:     "database schema has changed",
	TooBig:     "string or blob too big",
	Constraint: "constraint failed",
	Mismatch:   "datatype mismatch",
	Misuse:     "bad parameter or other API misuse",
	NoLFS:      "large file support is disabled",
	Auth:       "authorization denied",
	Format:     "auxiliary database format error",
	Range:      "column index out of range",
	NotADB:     "file is not a database",
	Notice:     "notification message",
	Warning:    "warning message",
	Row:        "another row available",
	Done:       "no more rows available",

	AbortRollback: "abort due to ROLLBACK",
}
