package constants

const DefaultPageSize = 20

// Reviews due inside this window count as at-risk.
const AtRiskWindowHours = 24

// This is set during compilation. See build_and_package.sh in the ops repo.
var Version = "latest"
