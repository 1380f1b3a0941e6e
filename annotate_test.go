package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotateInjections(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "controller function",
			in:   "angular.module('app').controller('Home', function($scope, $http) { $scope.x = 1; });",
			want: "angular.module('app').controller('Home', ['$scope', '$http', function($scope, $http) { $scope.x = 1; }]);",
		},
		{
			name: "config and run take the first argument",
			in:   "angular.module('app').config(function($stateProvider) {}).run(function($rootScope) {});",
			want: "angular.module('app').config(['$stateProvider', function($stateProvider) {}]).run(['$rootScope', function($rootScope) {}]);",
		},
		{
			name: "arrow with parenthesised body",
			in:   "app.factory('api', ($http) => ({ get: $http.get }));",
			want: "app.factory('api', ['$http', ($http) => ({ get: $http.get })]);",
		},
		{
			name: "class constructor",
			in:   "app.service('store', class { constructor($q) { this.$q = $q; } });",
			want: "app.service('store', ['$q', class { constructor($q) { this.$q = $q; } }]);",
		},
		{
			name: "component controller",
			in:   "app.component('nav', { template: '<p></p>', controller: function($element) {} });",
			want: "app.component('nav', { template: '<p></p>', controller: ['$element', function($element) {}] });",
		},
		{
			name: "already annotated",
			in:   "app.controller('A', ['$scope', function($scope) {}]);",
			want: "app.controller('A', ['$scope', function($scope) {}]);",
		},
		{
			name: "no parameters",
			in:   "app.run(function() {});",
			want: "app.run(function() {});",
		},
		{
			name: "unbalanced paren in a string",
			in:   "angular.module('a').controller('C', function($scope){ $scope.s = '('; });",
			want: "angular.module('a').controller('C', ['$scope', function($scope){ $scope.s = '('; }]);",
		},
		{
			name: "arrow body with paren in a string",
			in:   "app.factory('x', $h => $h.get('(')).run(function($q) { var r = /\\)/; });",
			want: "app.factory('x', ['$h', $h => $h.get('(')]).run(['$q', function($q) { var r = /\\)/; }]);",
		},
		{
			name: "grouped function followed by a comment",
			in:   "app.directive('d', (function($compile) { return {}; }) /* ) */);",
			want: "app.directive('d', ['$compile', (function($compile) { return {}; }) /* ) */]);",
		},
		{
			name: "line comment before the closing paren",
			in:   "app.run(function($rootScope) {} // boot\n);",
			want: "app.run(['$rootScope', function($rootScope) {} // boot\n]\n);",
		},
		{
			name: "named function declaration",
			in:   "function Ctrl($scope) {}\napp.controller('Ctrl', Ctrl);",
			want: "function Ctrl($scope) {}\nCtrl.$inject = ['$scope'];\napp.controller('Ctrl', Ctrl);",
		},
		{
			name: "named class declaration",
			in:   "class Home { constructor($scope, $http) { this.$http = $http; } }\napp.controller('Home', Home);",
			want: "class Home { constructor($scope, $http) { this.$http = $http; } }\nHome.$inject = ['$scope', '$http'];\napp.controller('Home', Home);",
		},
		{
			name: "named variable declaration",
			in:   "var svc = function($q) {};\napp.service('svc', svc).factory('f', svc);",
			want: "var svc = function($q) {};\nsvc.$inject = ['$q'];\napp.service('svc', svc).factory('f', svc);",
		},
		{
			name: "named reference already injected",
			in:   "function Ctrl($scope) {}\nCtrl.$inject = ['$scope'];\napp.controller('Ctrl', Ctrl);",
			want: "function Ctrl($scope) {}\nCtrl.$inject = ['$scope'];\napp.controller('Ctrl', Ctrl);",
		},
		{
			name: "named reference declared elsewhere",
			in:   "app.controller('Ctrl', Ctrl);",
			want: "app.controller('Ctrl', Ctrl);",
		},
		{
			name: "nested registrations",
			in:   "app.config(function($p) { app.run(function($q) {}); });",
			want: "app.config(['$p', function($p) { app.run(['$q', function($q) {}]); }]);",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := annotateInjections(File{Path: "app.js", Contents: []byte(tt.in)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out.Contents))
		})
	}
}

func TestAnnotateInjections_ParseError(t *testing.T) {
	_, err := annotateInjections(File{Path: "broken.js", Contents: []byte("app.controller('A', function( {")})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, CodeAnnotationFailed))
}

func TestVerifyScript(t *testing.T) {
	assert.NoError(t, verifyScript("ok.js", []byte("(function(angular){\n'use strict';\nvar a = 1;})(window.angular);")))

	err := verifyScript("bad.js", []byte("(function(angular){"))
	require.Error(t, err)
	assert.True(t, HasTextCode(err, CodeBundleInvalid))
}
