package pluginmgr

import (
	"github.com/gookit/color"
)

// Global variables
var (
	Debug     bool
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
)

// Fixed layout of the working root.
const (
	binDirName             = "bin"
	modulesDirName         = "modules"
	configsDirName         = "configs"
	resourcesDirName       = "resources"
	pythonModulesDirName   = "python_modules"
	pythonResourcesDirName = "python_resources"
	registryFileName       = "last_modified.json"
	configFileName         = "pluginmgr.conf"

	basePrefix     = "Backbone-Core-"
	baseSuffix     = ".jar"
	packagedSuffix = "Packaged.jar"

	// baseEntryKey is the registry path under which a namespace records the
	// digest of its own base archive.
	baseEntryKey = "_base"

	defaultMaxDepth = 999
)

// Top-level directories inside a packaged archive.
const (
	archiveConfigsDir         = "/configs"
	archiveResourcesDir       = "/resources"
	archivePythonModulesDir   = "/python_modules"
	archivePythonResourcesDir = "/python_resources"
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
