// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package router

import (
	"math/rand/v2"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// ChooseDeploymentTag draws the deployment tag for one request. During a
// blue/green canary with percentage P a uniform draw in [1,100] at or
// below P selects green; everything else is blue. rng is not safe for
// concurrent use, so callers serialize access to it.
func ChooseDeploymentTag(dep *modelstore.Deployment, rng *rand.Rand) string {
	if !dep.IsCanary() {
		return health.TagBlue
	}
	if rng.IntN(100)+1 <= dep.CanaryPercent {
		return health.TagGreen
	}
	return health.TagBlue
}
