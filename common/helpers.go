package common

import "os/user"

// IsRunningAsRoot reports whether the process has root privileges. GPIO and
// I2C device nodes usually need them.
func IsRunningAsRoot() bool {
	usr, _ := user.Current()
	return usr.Username == "root"
}
