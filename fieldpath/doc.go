package fieldpath

// fieldpath looks up values inside nested records using dotted paths such as
// "user.address.city". It never mutates the record and never returns an
// error: a path that can't be followed is simply absent.
